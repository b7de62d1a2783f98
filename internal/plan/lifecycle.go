package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/model"
)

// CreatePlan records a new draft plan (spec §3 "Plan").
func (m *Manager) CreatePlan(ctx context.Context, title, description string) (*model.Plan, error) {
	p := model.NewPlan(uuid.New().String(), title, description, time.Now().UTC())
	if err := m.persistAndPublish(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPlans returns every known plan.
func (m *Manager) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	return m.store.ListPlans(ctx)
}

// GetPlan returns planID, or a NotFound error.
func (m *Manager) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	p, err := m.store.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("plan", planID)
	}
	return p, nil
}

// GetTaskAssignments returns planID's current task-to-worker bindings.
func (m *Manager) GetTaskAssignments(ctx context.Context, planID string) ([]*model.TaskAssignment, error) {
	return m.store.LoadAssignments(ctx, planID)
}

// GetPlanActivities returns planID's append-only activity log.
func (m *Manager) GetPlanActivities(ctx context.Context, planID string) ([]*model.PlanActivity, error) {
	return m.store.LoadActivities(ctx, planID)
}

// StartDiscussion transitions a draft plan to discussing and spawns a
// planner-only agent to refine the plan with the user before any task
// decomposition commits to execution (spec §4.10 plan lifecycle diagram).
func (m *Manager) StartDiscussion(ctx context.Context, planID, referenceAgentID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		p, err := m.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("plan", planID)
		}
		if p.Status != model.PlanDraft {
			return nil, apperrors.InvalidState(fmt.Sprintf("plan %q cannot start discussion from status %q", planID, p.Status))
		}

		p.ReferenceAgentID = referenceAgentID
		p.Status = model.PlanDiscussing
		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}

		refDir := m.referenceDir(ctx, referenceAgentID)
		planDir := m.store.PlanDir(planID)

		tabID := p.OrchestratorTabID
		if tabID == "" {
			tab, err := m.tabs.CreatePlanTab(planID, p.Title)
			if err != nil {
				return nil, err
			}
			tabID = tab.ID
			p.OrchestratorTabID = tabID
			if err := m.persistAndPublish(ctx, p); err != nil {
				return nil, err
			}
		}

		var addDirs []string
		if refDir != "" {
			addDirs = []string{refDir}
		}
		agentID, terminalID, err := m.spawnInteractiveAgent(ctx, s, planID, tabID, planDir, "Planner",
			model.Role{Planner: true}, discussionPrompt(p.Title, p.Description, refDir), addDirs, "")
		if err != nil {
			m.activity(ctx, planID, model.ActivityError, "failed to spawn planner", err.Error())
			return nil, err
		}

		p.PlannerAgentID = agentID
		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}

		m.watchUntilExit(m.ctx, terminalID, func() { m.handlePlannerExit(planID) })
		return nil, nil
	})
	return err
}

// CancelDiscussion aborts the discussion phase, returning the plan to draft.
func (m *Manager) CancelDiscussion(ctx context.Context, planID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		p, err := m.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("plan", planID)
		}
		if p.Status != model.PlanDiscussing {
			return nil, apperrors.InvalidState(fmt.Sprintf("plan %q is not discussing (status %q)", planID, p.Status))
		}

		if p.PlannerAgentID != "" {
			m.cleanupAgent(ctx, s, p.PlannerAgentID)
			p.PlannerAgentID = ""
		}
		p.Status = model.PlanDraft
		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}
		m.activity(ctx, planID, model.ActivityInfo, "discussion cancelled", "")
		return nil, nil
	})
	return err
}

// ExecutePlan starts delegation: it is idempotent under a per-plan
// in-memory guard (spec §4.10 "Starting a plan"): the first call sets the
// plan's guard, and every later call returns nil without doing anything
// until RestartPlan clears it.
func (m *Manager) ExecutePlan(ctx context.Context, planID, referenceAgentID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		if s.guard[planID] {
			return nil, nil
		}
		s.guard[planID] = true

		p, err := m.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("plan", planID)
		}
		if p.Status != model.PlanDraft && p.Status != model.PlanDiscussed {
			return nil, apperrors.InvalidState(fmt.Sprintf("plan %q cannot be executed from status %q", planID, p.Status))
		}

		// Step 1: record reference agent, move to delegating.
		p.ReferenceAgentID = referenceAgentID
		if p.BranchStrategy == model.StrategyFeatureBranch && p.FeatureBranch == "" {
			p.FeatureBranch = fmt.Sprintf("bismark/%s/plan", shortID(planID))
		}
		p.Status = model.PlanDelegating
		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}

		// Step 2: ensure the external task store.
		if m.tasks.Available() {
			if err := m.tasks.Ensure(ctx, planID); err != nil {
				p.Status = model.PlanFailed
				_ = m.persistAndPublish(ctx, p)
				m.activity(ctx, planID, model.ActivityError, "failed to initialize task store", err.Error())
				return nil, err
			}
		}

		// Step 3: the plan tab must exist, persisted and emitted, before any
		// worker is dispatched.
		if p.OrchestratorTabID == "" {
			tab, err := m.tabs.CreatePlanTab(planID, p.Title)
			if err != nil {
				p.Status = model.PlanFailed
				_ = m.persistAndPublish(ctx, p)
				return nil, err
			}
			p.OrchestratorTabID = tab.ID
			if err := m.persistAndPublish(ctx, p); err != nil {
				return nil, err
			}
		}

		refDir := m.referenceDir(ctx, referenceAgentID)
		planDir := m.store.PlanDir(planID)
		var addDirs []string
		if refDir != "" {
			addDirs = []string{refDir}
		}

		// Step 4: orchestrator and planner agents, both placed in the plan tab.
		if p.OrchestratorAgentID == "" {
			orchID, _, err := m.spawnInteractiveAgent(ctx, s, planID, p.OrchestratorTabID, planDir, "Orchestrator",
				model.Role{Orchestrator: true}, orchestratorPrompt(p.Title, p.Description, m.maxParallel(p)), nil, "")
			if err != nil {
				m.activity(ctx, planID, model.ActivityError, "failed to spawn orchestrator", err.Error())
				p.Status = model.PlanFailed
				_ = m.persistAndPublish(ctx, p)
				return nil, err
			}
			p.OrchestratorAgentID = orchID
		}

		if p.PlannerAgentID == "" {
			plannerID, terminalID, err := m.spawnInteractiveAgent(ctx, s, planID, p.OrchestratorTabID, planDir, "Planner",
				model.Role{Planner: true}, plannerPrompt(p.Title, p.Description, refDir), addDirs, "")
			if err != nil {
				m.activity(ctx, planID, model.ActivityError, "failed to spawn planner", err.Error())
				p.Status = model.PlanFailed
				_ = m.persistAndPublish(ctx, p)
				return nil, err
			}
			p.PlannerAgentID = plannerID
			// Step 5: watch for the planner's exit tell.
			m.watchUntilExit(m.ctx, terminalID, func() { m.handlePlannerExit(planID) })
		}

		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}

		// Step 6: start the per-plan polling loop.
		ensurePollerLocked(m, s, planID)
		return nil, nil
	})
	return err
}

func (m *Manager) referenceDir(ctx context.Context, referenceAgentID string) string {
	if referenceAgentID == "" {
		return ""
	}
	agent, err := m.store.GetAgentByID(ctx, referenceAgentID)
	if err != nil || agent == nil {
		return ""
	}
	return agent.WorkingDir
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// handlePlannerExit cleans up a planner agent once it signals completion,
// whether that happened during the discussion phase or during delegation
// (spec §4.10 step 5). Runs on its own watcher goroutine, so it submits
// its own command.
func (m *Manager) handlePlannerExit(planID string) {
	m.call(func(s *state) (interface{}, error) {
		p, err := m.store.GetPlanByID(m.ctx, planID)
		if err != nil || p == nil {
			return nil, nil
		}
		if p.PlannerAgentID != "" {
			m.cleanupAgent(m.ctx, s, p.PlannerAgentID)
			p.PlannerAgentID = ""
		}
		if p.Status == model.PlanDiscussing {
			p.Status = model.PlanDiscussed
		}
		if err := m.persistAndPublish(m.ctx, p); err != nil {
			m.log.Warn("failed to persist plan after planner exit", zap.String("plan_id", planID), zap.Error(err))
		}
		m.activity(m.ctx, planID, model.ActivityInfo, "planner finished", "")
		return nil, nil
	})
}

// CancelPlan runs the two-phase cancellation (spec §4.10 "Cancellation").
// Phase A runs synchronously and is what the caller waits on; phase B
// (worktree cleanup) continues in the background.
func (m *Manager) CancelPlan(ctx context.Context, planID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		p, err := m.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("plan", planID)
		}
		if p.Status.IsTerminal() {
			return nil, nil
		}

		cancelPollerLocked(s, planID)

		agents, _ := m.store.ListAgents(ctx)
		for _, a := range agents {
			if a.ParentPlanID != planID {
				continue
			}
			if a.IsHeadless() {
				_ = m.headlessRT.Destroy(ctx, a.TaskID, false)
				_ = m.store.DeleteAgent(ctx, a.ID)
				continue
			}
			m.cleanupAgent(ctx, s, a.ID)
		}

		if p.OrchestratorTabID != "" {
			_ = m.tabs.DeleteTab(p.OrchestratorTabID)
		}

		p.Status = model.PlanFailed
		p.OrchestratorAgentID = ""
		p.PlannerAgentID = ""
		p.OrchestratorTabID = ""
		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}
		m.activity(ctx, planID, model.ActivityWarning, "plan cancelled", "")

		go m.cancelPhaseB(planID)
		return nil, nil
	})
	return err
}

// cancelPhaseB attempts worktree removal and pruning for every worktree
// still active after phase A, logging failures as activities rather than
// treating them as fatal (spec §4.10 "Cancellation" phase B). Runs on its
// own goroutine, so it submits its own command.
func (m *Manager) cancelPhaseB(planID string) {
	m.call(func(s *state) (interface{}, error) {
		worktrees, err := m.store.LoadWorktrees(m.ctx, planID)
		if err != nil {
			return nil, nil
		}
		prunedRepos := map[string]bool{}
		for _, wt := range worktrees {
			if wt.Status == model.WorktreeCleaned {
				continue
			}
			repo, err := m.store.GetRepositoryByID(m.ctx, wt.RepositoryID)
			if err != nil || repo == nil {
				m.activity(m.ctx, planID, model.ActivityWarning, "cannot locate repository for worktree cleanup", wt.Path)
				continue
			}
			if err := m.git.RemoveWorktree(m.ctx, repo.RootPath, wt.Path, wt.Branch, true); err != nil {
				m.activity(m.ctx, planID, model.ActivityWarning, "failed to remove worktree during cancellation", err.Error())
				continue
			}
			wt.Status = model.WorktreeCleaned
			if !prunedRepos[repo.ID] {
				_ = m.git.PruneWorktrees(m.ctx, repo.RootPath)
				prunedRepos[repo.ID] = true
			}
		}
		_ = m.store.SaveWorktrees(m.ctx, planID, worktrees)
		return nil, nil
	})
}

// DeletePlan removes a terminal (or never-started) plan's persisted state.
func (m *Manager) DeletePlan(ctx context.Context, planID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		p, err := m.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("plan", planID)
		}
		if p.Status.IsActive() {
			return nil, apperrors.InvalidState(fmt.Sprintf("plan %q is active; cancel it before deleting", planID))
		}

		cancelPollerLocked(s, planID)
		if err := m.store.DeletePlan(ctx, planID); err != nil {
			return nil, err
		}
		m.bus.Publish(eventbus.PlanDeleted, planID)
		return nil, nil
	})
	return err
}

// DeletePlans removes multiple plans, continuing past individual failures
// and returning the first error encountered, if any.
func (m *Manager) DeletePlans(ctx context.Context, planIDs []string) error {
	var firstErr error
	for _, id := range planIDs {
		if err := m.DeletePlan(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClonePlan duplicates a plan's title, description and configuration into
// a fresh draft, leaving the original untouched.
func (m *Manager) ClonePlan(ctx context.Context, planID string) (*model.Plan, error) {
	src, err := m.store.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, apperrors.NotFound("plan", planID)
	}

	clone := model.NewPlan(uuid.New().String(), src.Title, src.Description, time.Now().UTC())
	clone.MaxParallelAgents = src.MaxParallelAgents
	clone.BranchStrategy = src.BranchStrategy
	clone.BaseBranch = src.BaseBranch
	if err := m.persistAndPublish(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// RestartPlan resets a failed plan to draft and re-runs executePlan with
// its original reference agent. The state reset and the re-execution are
// two separate commands: ExecutePlan submits its own command internally,
// so it must run outside this method's own command closure.
func (m *Manager) RestartPlan(ctx context.Context, planID string) error {
	v, err := m.call(func(s *state) (interface{}, error) {
		p, err := m.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("plan", planID)
		}
		if p.Status != model.PlanFailed {
			return nil, apperrors.InvalidState(fmt.Sprintf("plan %q cannot be restarted from status %q", planID, p.Status))
		}

		refAgentID := p.ReferenceAgentID
		p.Status = model.PlanDraft
		p.OrchestratorAgentID = ""
		p.PlannerAgentID = ""
		p.OrchestratorTabID = ""
		p.GitSummary = model.GitSummary{}
		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}
		delete(s.guard, planID)
		return refAgentID, nil
	})
	if err != nil {
		return err
	}

	return m.ExecutePlan(ctx, planID, v.(string))
}
