// Package model holds the durable data types shared across the orchestration
// core: agents, tabs, plans, worktrees, assignments, activities, headless
// stream events, repositories and preferences (spec §3).
package model

import "time"

// Role flags an agent carries. Exactly one consistent combination applies
// per agent (spec §3 invariant): a plain interactive agent has none set; a
// plan's orchestrator/planner/task-worker each set their own flag; a
// headless agent never owns a PTY.
type Role struct {
	Orchestrator       bool `json:"orchestrator,omitempty"`
	Planner            bool `json:"planner,omitempty"`
	TaskWorker         bool `json:"taskWorker,omitempty"`
	Headless           bool `json:"headless,omitempty"`
	StandaloneHeadless bool `json:"standaloneHeadless,omitempty"`
}

// Agent is a supervised workspace: either a PTY-backed interactive CLI
// session or a headless container-bound worker (spec §3 "Agent").
type Agent struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	WorkingDir      string    `json:"workingDir"`
	Purpose         string    `json:"purpose,omitempty"`
	ColorTheme      string    `json:"colorTheme,omitempty"`
	Icon            string    `json:"icon,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`
	Role            Role      `json:"role"`
	ParentPlanID    string    `json:"parentPlanId,omitempty"`
	WorktreePath    string    `json:"worktreePath,omitempty"`
	TaskID          string    `json:"taskId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	LastAttentionAt time.Time `json:"lastAttentionAt,omitempty"`
}

// IsHeadless reports whether the agent is backed by a container rather
// than a PTY.
func (a *Agent) IsHeadless() bool {
	return a.Role.Headless || a.Role.StandaloneHeadless
}

// Touch stamps UpdatedAt; callers invoke it before persisting a mutation.
func (a *Agent) Touch(now time.Time) {
	a.UpdatedAt = now
}
