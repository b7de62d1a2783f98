package plan

import (
	"context"
	"regexp"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/model"
)

var prURLPattern = regexp.MustCompile(`https?://github\.com/[^/\s]+/[^/\s]+/pull/\d+`)

// CompletePlan finalizes a ready_for_review plan per its branch strategy
// (spec §4.10 "Completion finalization") and tears down its agents and tab.
func (m *Manager) CompletePlan(ctx context.Context, planID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		p, err := m.store.GetPlanByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("plan", planID)
		}
		if p.Status != model.PlanReadyForReview {
			return nil, apperrors.InvalidState("plan is not ready for review")
		}

		worktrees, err := m.store.LoadWorktrees(ctx, planID)
		if err != nil {
			return nil, err
		}

		prunedRepos := map[string]bool{}
		for _, wt := range worktrees {
			if wt.Status == model.WorktreeCleaned {
				continue
			}
			repo, err := m.store.GetRepositoryByID(ctx, wt.RepositoryID)
			if err != nil || repo == nil {
				m.activity(ctx, planID, model.ActivityWarning, "cannot locate repository for worktree finalization", wt.Path)
				continue
			}

			switch p.BranchStrategy {
			case model.StrategyFeatureBranch:
				m.finalizeFeatureBranch(ctx, p, repo, wt)
			case model.StrategyRaisePRs:
				m.finalizeRaisePRs(ctx, p, repo, wt)
			}

			if err := m.git.RemoveWorktree(ctx, repo.RootPath, wt.Path, wt.Branch, false); err != nil {
				m.activity(ctx, planID, model.ActivityWarning, "failed to remove worktree during completion", err.Error())
				continue
			}
			wt.Status = model.WorktreeCleaned
			if !prunedRepos[repo.ID] {
				_ = m.git.PruneWorktrees(ctx, repo.RootPath)
				prunedRepos[repo.ID] = true
			}
		}
		if err := m.store.SaveWorktrees(ctx, planID, worktrees); err != nil {
			return nil, err
		}

		agents, _ := m.store.ListAgents(ctx)
		for _, a := range agents {
			if a.ParentPlanID != planID {
				continue
			}
			if a.IsHeadless() {
				_ = m.store.DeleteAgent(ctx, a.ID)
				continue
			}
			m.cleanupAgent(ctx, s, a.ID)
		}

		if p.OrchestratorTabID != "" {
			_ = m.tabs.DeleteTab(p.OrchestratorTabID)
		}

		p.Status = model.PlanCompleted
		p.OrchestratorAgentID = ""
		p.PlannerAgentID = ""
		p.OrchestratorTabID = ""
		if err := m.persistAndPublish(ctx, p); err != nil {
			return nil, err
		}
		m.activity(ctx, planID, model.ActivitySuccess, "plan completed", "")
		cancelPollerLocked(s, planID)
		return nil, nil
	})
	return err
}

// finalizeFeatureBranch rebases wt's branch onto base and folds it into
// the plan's feature branch, recording commit references.
func (m *Manager) finalizeFeatureBranch(ctx context.Context, p *model.Plan, repo *model.Repository, wt *model.PlanWorktree) {
	if err := m.git.FetchAndRebase(ctx, wt.Path, p.BaseBranch); err != nil {
		m.activity(ctx, p.ID, model.ActivityWarning, "failed to rebase worktree branch onto base", err.Error())
		return
	}
	if commits, err := m.git.GetCommitsBetween(ctx, repo.RootPath, p.BaseBranch, wt.Branch); err == nil {
		p.GitSummary.Commits = append(p.GitSummary.Commits, commits...)
	}
	if p.FeatureBranch != "" {
		if err := m.git.PushToRemoteBranch(ctx, wt.Path, p.FeatureBranch); err != nil {
			m.activity(ctx, p.ID, model.ActivityWarning, "failed to fold worktree branch into feature branch", err.Error())
		}
	}
}

// finalizeRaisePRs pushes wt's branch and harvests the first PR URL in
// each event of the task's persisted headless event log. PR URLs that
// interactive workers report elsewhere are not harvested.
func (m *Manager) finalizeRaisePRs(ctx context.Context, p *model.Plan, repo *model.Repository, wt *model.PlanWorktree) {
	if err := m.git.PushBranch(ctx, wt.Path, wt.Branch); err != nil {
		m.activity(ctx, p.ID, model.ActivityWarning, "failed to push worktree branch", err.Error())
		return
	}
	events, err := m.store.LoadHeadlessEvents(ctx, p.ID, wt.TaskID)
	if err != nil {
		return
	}
	for _, ev := range events {
		if url := prURLPattern.FindString(ev.TextPayload()); url != "" {
			p.GitSummary.PRUrls = append(p.GitSummary.PRUrls, url)
		}
	}
}
