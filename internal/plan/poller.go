package plan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/model"
	"github.com/bismarkhq/bismark/internal/taskstore"
)

func (m *Manager) runPoller(ctx context.Context, planID string) {
	ticker := time.NewTicker(m.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.pollOnce(ctx, planID); err != nil {
				m.log.Warn("plan poll failed", zap.String("plan_id", planID), zap.Error(err))
			}
		}
	}
}

// pollOnce runs the three polling-loop sub-steps once for planID (spec
// §4.10 "Polling loop"). For callers not already inside a command
// (runPoller's ticker goroutine, tests).
func (m *Manager) pollOnce(ctx context.Context, planID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		return nil, doPollOnce(ctx, m, s, planID)
	})
	return err
}

func doPollOnce(ctx context.Context, m *Manager, s *state, planID string) error {
	p, err := m.store.GetPlanByID(ctx, planID)
	if err != nil {
		return err
	}
	if p == nil || !p.Status.IsActive() {
		cancelPollerLocked(s, planID)
		return nil
	}

	assignments, err := m.store.LoadAssignments(ctx, planID)
	if err != nil {
		return err
	}
	worktrees, err := m.store.LoadWorktrees(ctx, planID)
	if err != nil {
		return err
	}

	// (a) dispatch every ready, unassigned task.
	readyTasks, err := m.tasks.List(ctx, planID, taskstore.ListOptions{Status: taskstore.StatusOpen, Labels: []string{taskstore.LabelReady}})
	if err != nil {
		m.activity(ctx, planID, model.ActivityWarning, "failed to list ready tasks", err.Error())
	} else {
		for _, task := range readyTasks {
			if m.findAssignment(assignments, task.ID) != nil {
				continue
			}
			m.processReadyTask(ctx, s, p, task, &assignments, &worktrees)
		}
	}

	// (b) reconcile assignments against closed tasks.
	for _, a := range assignments {
		if !a.Status.IsOutstanding() {
			continue
		}
		task, err := m.tasks.Get(ctx, planID, a.TaskID)
		if err != nil || task == nil || task.Status != taskstore.StatusClosed {
			continue
		}

		a.Status = model.AssignmentCompleted
		a.CompletedAt = time.Now().UTC()
		m.bus.Publish(eventbus.TaskAssignmentUpdate, a)

		if wt := m.findWorktree(worktrees, a.TaskID); wt != nil && wt.Status == model.WorktreeActive {
			wt.Status = model.WorktreeReadyForReview
		}

		if agent, _ := m.findAgentByTask(ctx, a.TaskID); agent != nil && !agent.IsHeadless() {
			if terminalID, ok := getTerminalLocked(s, agent.ID); ok {
				if err := m.sup.Write(terminalID, []byte("/exit\r")); err != nil {
					m.log.Warn("failed to signal exit to completed task worker", zap.String("agent_id", agent.ID), zap.Error(err))
				}
			}
		}
		m.activity(ctx, planID, model.ActivityInfo, "task "+a.TaskID+" completed", "")
	}

	if err := m.saveAssignments(ctx, planID, assignments); err != nil {
		return err
	}
	if err := m.store.SaveWorktrees(ctx, planID, worktrees); err != nil {
		return err
	}

	// (c) recompute plan status.
	anyOutstanding := false
	for _, a := range assignments {
		if a.Status.IsOutstanding() {
			anyOutstanding = true
			break
		}
	}
	if anyOutstanding && p.Status == model.PlanDelegating {
		p.Status = model.PlanInProgress
	}

	allClosed, existed, err := m.allTasksClosed(ctx, planID)
	if err == nil && existed && allClosed && !p.Status.IsTerminal() && p.Status != model.PlanReadyForReview {
		p.Status = model.PlanReadyForReview
	}

	p.LastPolledAt = time.Now().UTC()
	if err := m.persistAndPublish(ctx, p); err != nil {
		return err
	}

	if !p.Status.IsActive() {
		cancelPollerLocked(s, planID)
	}
	return nil
}

// allTasksClosed reports whether planID has at least one task and every
// task under it is closed.
func (m *Manager) allTasksClosed(ctx context.Context, planID string) (allClosed, existed bool, err error) {
	tasks, err := m.tasks.List(ctx, planID, taskstore.ListOptions{})
	if err != nil {
		return false, false, err
	}
	if len(tasks) == 0 {
		return false, false, nil
	}
	for _, t := range tasks {
		if t.Status != taskstore.StatusClosed {
			return false, true, nil
		}
	}
	return true, true, nil
}
