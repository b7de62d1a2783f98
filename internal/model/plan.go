package model

import "time"

// PlanStatus is the plan lifecycle state (spec §4.10).
type PlanStatus string

const (
	PlanDraft           PlanStatus = "draft"
	PlanDiscussing      PlanStatus = "discussing"
	PlanDiscussed       PlanStatus = "discussed"
	PlanDelegating      PlanStatus = "delegating"
	PlanInProgress      PlanStatus = "in_progress"
	PlanReadyForReview  PlanStatus = "ready_for_review"
	PlanCompleted       PlanStatus = "completed"
	PlanFailed          PlanStatus = "failed"
)

// IsTerminal reports whether no further transitions leave this status.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanFailed
}

// IsActive reports whether the plan is subject to the C10 poll loop.
func (s PlanStatus) IsActive() bool {
	return s == PlanDelegating || s == PlanInProgress
}

// BranchStrategy controls how a plan's completed worktrees are integrated.
type BranchStrategy string

const (
	StrategyFeatureBranch BranchStrategy = "feature_branch"
	StrategyRaisePRs      BranchStrategy = "raise_prs"
)

// GitSummary accumulates commit references and PR URLs collected while a
// plan's worktrees are finalized (spec §4.10 "Completion finalization").
type GitSummary struct {
	Commits  []string `json:"commits,omitempty"`
	PRUrls   []string `json:"prUrls,omitempty"`
}

// Plan is a decomposed unit of work tracked end-to-end by C10 (spec §3 "Plan").
type Plan struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Status            PlanStatus     `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	LastPolledAt      time.Time      `json:"lastPolledAt,omitempty"`
	ReferenceAgentID  string         `json:"referenceAgentId,omitempty"`
	EpicID            string         `json:"epicId,omitempty"`
	OrchestratorAgentID string       `json:"orchestratorAgentId,omitempty"`
	OrchestratorTabID string         `json:"orchestratorTabId,omitempty"`
	PlannerAgentID    string         `json:"plannerAgentId,omitempty"`
	MaxParallelAgents int            `json:"maxParallelAgents"`
	BranchStrategy    BranchStrategy `json:"branchStrategy"`
	BaseBranch        string         `json:"baseBranch"`
	FeatureBranch     string         `json:"featureBranch,omitempty"`
	Worktrees         []string       `json:"worktrees,omitempty"` // PlanWorktree ids
	GitSummary        GitSummary     `json:"gitSummary"`
}

// NewPlan builds a draft plan with spec-mandated defaults.
func NewPlan(id, title, description string, now time.Time) *Plan {
	return &Plan{
		ID:                id,
		Title:             title,
		Description:       description,
		Status:            PlanDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
		MaxParallelAgents: 4,
		BranchStrategy:    StrategyFeatureBranch,
		BaseBranch:        "main",
	}
}

// WorktreeStatus tracks a single allocated worktree through its lifecycle.
type WorktreeStatus string

const (
	WorktreeActive         WorktreeStatus = "active"
	WorktreeReadyForReview WorktreeStatus = "ready_for_review"
	WorktreeCleaned        WorktreeStatus = "cleaned"
)

// PlanWorktree binds a task to a git worktree and a worker agent (spec §3
// "PlanWorktree"). While Status != cleaned, the filesystem path exists.
type PlanWorktree struct {
	PlanID       string         `json:"planId"`
	TaskID       string         `json:"taskId"`
	RepositoryID string         `json:"repositoryId"`
	Path         string         `json:"path"`
	Branch       string         `json:"branch"`
	AgentID      string         `json:"agentId"`
	Status       WorktreeStatus `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AssignmentStatus tracks a task's dispatch lifecycle (spec §3 "TaskAssignment").
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentSent       AssignmentStatus = "sent"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentFailed     AssignmentStatus = "failed"
)

// IsOutstanding reports whether the assignment counts against the plan's
// admission bound (spec §4.10 "Admission control").
func (s AssignmentStatus) IsOutstanding() bool {
	return s == AssignmentSent || s == AssignmentInProgress
}

// TaskAssignment is one task-to-worker binding within a plan (spec §3).
type TaskAssignment struct {
	TaskID       string           `json:"taskId"`
	WorkerAgentID string          `json:"workerAgentId"`
	Status       AssignmentStatus `json:"status"`
	AssignedAt   time.Time        `json:"assignedAt"`
	CompletedAt  time.Time        `json:"completedAt,omitempty"`
}

// ActivityType classifies a PlanActivity entry for UI presentation (spec §3).
type ActivityType string

const (
	ActivityInfo    ActivityType = "info"
	ActivitySuccess ActivityType = "success"
	ActivityWarning ActivityType = "warning"
	ActivityError   ActivityType = "error"
)

// PlanActivity is an append-only log entry for a plan (spec §3 "PlanActivity").
type PlanActivity struct {
	ID        string       `json:"id"`
	PlanID    string       `json:"planId"`
	Timestamp time.Time    `json:"timestamp"`
	Type      ActivityType `json:"type"`
	Message   string       `json:"message"`
	Details   string       `json:"details,omitempty"`
}
