package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/headless"
	"github.com/bismarkhq/bismark/internal/model"
	"github.com/bismarkhq/bismark/internal/ptysup"
	"github.com/bismarkhq/bismark/internal/taskstore"
)

// spawnInteractiveAgent launches a PTY-backed agent through the bounded
// spawn queue (C5), records its Agent, and places it in tabID. It returns
// the new agent id and the ptysup terminal id backing it (tracked by the
// actor's state, in-process only: terminal identity does not survive a
// restart). Must be called from inside a command's fn.
func (m *Manager) spawnInteractiveAgent(
	ctx context.Context,
	s *state,
	planID, tabID, workingDir, name string,
	role model.Role,
	prompt string,
	addDirs []string,
	taskID string,
) (agentID, terminalID string, err error) {
	agentID = uuid.New().String()

	err = m.queue.Submit(ctx, agentID, func(sctx context.Context) error {
		tid, cerr := m.sup.Create(ptysup.CreateOptions{
			AgentID:       agentID,
			WorkingDir:    workingDir,
			InitialPrompt: prompt,
			AddDirs:       addDirs,
			Binary:        m.agentCfg.Binary,
		})
		if cerr != nil {
			return cerr
		}
		terminalID = tid
		return nil
	})
	if err != nil {
		return "", "", err
	}
	setTerminalLocked(s, agentID, terminalID)

	now := time.Now().UTC()
	agent := &model.Agent{
		ID:           agentID,
		Name:         name,
		WorkingDir:   workingDir,
		Role:         role,
		ParentPlanID: planID,
		TaskID:       taskID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.SaveAgent(ctx, agent); err != nil {
		return "", "", err
	}
	if err := m.tabs.AddAgentToTab(tabID, agentID, 0); err != nil {
		return "", "", err
	}
	m.bus.Publish(eventbus.TerminalCreated, eventbus.TerminalCreatedPayload{TerminalID: terminalID, AgentID: agentID})
	return agentID, terminalID, nil
}

// cleanupAgent closes an interactive agent's PTY, removes it from its tab
// and deletes its record. Best-effort: every step runs even if an earlier
// one fails. Must be called from inside a command's fn.
func (m *Manager) cleanupAgent(ctx context.Context, s *state, agentID string) {
	if terminalID, ok := getTerminalLocked(s, agentID); ok {
		if err := m.sup.Close(terminalID); err != nil {
			m.log.Warn("failed to close agent terminal", zap.String("agent_id", agentID), zap.Error(err))
		}
		clearTerminalLocked(s, agentID)
	}
	if err := m.tabs.RemoveAgentFromTab(agentID); err != nil {
		m.log.Warn("failed to remove agent from tab", zap.String("agent_id", agentID), zap.Error(err))
	}
	if err := m.store.DeleteAgent(ctx, agentID); err != nil {
		m.log.Warn("failed to delete agent record", zap.String("agent_id", agentID), zap.Error(err))
	}
}

func removeAssignment(assignments []*model.TaskAssignment, taskID string) []*model.TaskAssignment {
	out := assignments[:0]
	for _, a := range assignments {
		if a.TaskID != taskID {
			out = append(out, a)
		}
	}
	return out
}

// processReadyTask admits and dispatches one bismark-ready task (spec
// §4.10 "processReadyTask"). Must be called from inside a command's fn.
func (m *Manager) processReadyTask(
	ctx context.Context,
	s *state,
	p *model.Plan,
	task *taskstore.Task,
	assignments *[]*model.TaskAssignment,
	worktrees *[]*model.PlanWorktree,
) {
	repoName, ok := task.RepoLabel()
	wtSlug, ok2 := task.WorktreeLabel()
	if !ok || !ok2 {
		m.activity(ctx, p.ID, model.ActivityWarning,
			fmt.Sprintf("task %s is bismark-ready but missing repo:/worktree: labels", task.ID), "")
		return
	}

	repo, err := m.findRepoByName(ctx, repoName)
	if err != nil || repo == nil {
		m.activity(ctx, p.ID, model.ActivityWarning,
			fmt.Sprintf("task %s references unknown repository %q", task.ID, repoName), "")
		return
	}

	outstanding := 0
	for _, a := range *assignments {
		if a.Status.IsOutstanding() {
			outstanding++
		}
	}
	if outstanding >= m.maxParallel(p) {
		return // saturated; next poll retries
	}

	assignment := &model.TaskAssignment{TaskID: task.ID, Status: model.AssignmentPending, AssignedAt: time.Now().UTC()}
	*assignments = append(*assignments, assignment)

	branch, err := m.git.GenerateUniqueBranchName(ctx, repo.RootPath, p.ID, task.Title)
	if err != nil {
		*assignments = removeAssignment(*assignments, task.ID)
		m.activity(ctx, p.ID, model.ActivityWarning, "failed to allocate a branch name for task "+task.ID, err.Error())
		return
	}

	wtPath, err := m.git.CreateWorktree(ctx, repo.RootPath, branch, p.BaseBranch, wtSlug)
	if err != nil {
		*assignments = removeAssignment(*assignments, task.ID)
		m.activity(ctx, p.ID, model.ActivityWarning, "failed to allocate a worktree for task "+task.ID, err.Error())
		return
	}

	pwt := &model.PlanWorktree{
		PlanID:       p.ID,
		TaskID:       task.ID,
		RepositoryID: repo.ID,
		Path:         wtPath,
		Branch:       branch,
		Status:       model.WorktreeActive,
		CreatedAt:    time.Now().UTC(),
	}
	*worktrees = append(*worktrees, pwt)

	var agentID string
	if m.cfg.HeadlessDispatch {
		agentID, err = m.dispatchHeadless(ctx, p, task, pwt)
	} else {
		agentID, err = m.dispatchInteractive(ctx, s, p, task, pwt)
	}
	if err != nil {
		*assignments = removeAssignment(*assignments, task.ID)
		m.activity(ctx, p.ID, model.ActivityError, "failed to dispatch task "+task.ID, err.Error())
		return
	}

	pwt.AgentID = agentID
	assignment.WorkerAgentID = agentID
	assignment.Status = model.AssignmentSent
	m.bus.Publish(eventbus.TaskAssignmentUpdate, assignment)

	if err := m.tasks.Relabel(ctx, p.ID, task.ID, taskstore.LabelReady, taskstore.LabelSent); err != nil {
		m.log.Warn("failed to relabel dispatched task", zap.String("task_id", task.ID), zap.Error(err))
	}
	m.activity(ctx, p.ID, model.ActivityInfo, "dispatched task "+task.ID, branch)
}

// dispatchInteractive spawns a PTY-backed task worker (spec §4.10 "Dispatch").
func (m *Manager) dispatchInteractive(ctx context.Context, s *state, p *model.Plan, task *taskstore.Task, wt *model.PlanWorktree) (string, error) {
	addDirs := []string{wt.Path, m.store.PlanDir(p.ID)}
	prompt := taskWorkerPrompt(task.ID, task.Title, wt.Branch, string(p.BranchStrategy))
	agentID, terminalID, err := m.spawnInteractiveAgent(ctx, s, p.ID, p.OrchestratorTabID, wt.Path,
		"Task "+task.ID, model.Role{TaskWorker: true}, prompt, addDirs, task.ID)
	if err != nil {
		return "", err
	}

	planID, taskID, path := p.ID, task.ID, wt.Path
	m.watchUntilExit(m.ctx, terminalID, func() { m.handleWorkerExit(planID, taskID, path) })
	return agentID, nil
}

// dispatchHeadless launches a container-bound task worker (spec §4.8, §4.10).
func (m *Manager) dispatchHeadless(ctx context.Context, p *model.Plan, task *taskstore.Task, wt *model.PlanWorktree) (string, error) {
	if m.headlessRT == nil {
		return "", apperrors.ResourceUnavailable("headless dispatch is enabled but no container runtime is configured")
	}
	prompt := taskWorkerPrompt(task.ID, task.Title, wt.Branch, string(p.BranchStrategy))
	if _, err := m.headlessRT.Start(ctx, headless.StartOptions{
		TaskID:       task.ID,
		PlanID:       p.ID,
		WorktreePath: wt.Path,
		Prompt:       prompt,
	}); err != nil {
		return "", err
	}

	agentID := uuid.New().String()
	now := time.Now().UTC()
	agent := &model.Agent{
		ID:           agentID,
		Name:         "Task " + task.ID,
		WorkingDir:   wt.Path,
		Role:         model.Role{TaskWorker: true, Headless: true},
		ParentPlanID: p.ID,
		WorktreePath: wt.Path,
		TaskID:       task.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.SaveAgent(ctx, agent); err != nil {
		return "", err
	}
	return agentID, nil
}

// handleWorkerExit marks a worker's worktree ready for review once its
// interactive session signals completion (spec §4.10 "Dispatch" interactive
// mode: "no automatic push unless the plan demands it on finalization").
// Runs on its own watcher goroutine, so it submits its own command.
func (m *Manager) handleWorkerExit(planID, taskID, worktreePath string) {
	m.call(func(s *state) (interface{}, error) {
		worktrees, err := m.store.LoadWorktrees(m.ctx, planID)
		if err != nil {
			return nil, nil
		}
		wt := m.findWorktree(worktrees, taskID)
		if wt == nil || wt.Status != model.WorktreeActive {
			return nil, nil
		}
		wt.Status = model.WorktreeReadyForReview
		if err := m.store.SaveWorktrees(m.ctx, planID, worktrees); err != nil {
			m.log.Warn("failed to persist worktree after worker exit", zap.String("plan_id", planID), zap.Error(err))
		}
		return nil, nil
	})
}
