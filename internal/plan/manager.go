// Package plan implements C10: the plan state machine and its 5-second
// poll loop, run as a single actor goroutine exactly like C4's
// internal/wsstate.Manager — one command channel serializes every guard/
// poller/terminal bookkeeping mutation and every plan lifecycle
// transition, so invariants spanning multiple fields (an admitted
// dispatch's assignment and worktree records, a plan's status and its
// tab) never observe a half-applied update. Grounded on the teacher's
// orchestrator state machines (internal/orchestrator) the same way
// wsstate.go is, and on its errgroup-supervised background workers
// (internal/agentctl/server/process) for the one poll goroutine per
// active plan and the per-agent exit-watcher goroutines.
package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/headless"
	"github.com/bismarkhq/bismark/internal/model"
	"github.com/bismarkhq/bismark/internal/ptysup"
	"github.com/bismarkhq/bismark/internal/spawnqueue"
	"github.com/bismarkhq/bismark/internal/store"
	"github.com/bismarkhq/bismark/internal/taskstore"
)

// supervisor is the subset of ptysup.Supervisor the plan engine drives,
// extracted so tests can substitute a fake instead of spawning real PTYs.
type supervisor interface {
	Create(opts ptysup.CreateOptions) (string, error)
	Write(terminalID string, data []byte) error
	Close(terminalID string) error
	GetEmitter(terminalID string) (ptysup.Emitter, error)
	WaitForOutput(terminalID string, match func([]byte) bool, timeout time.Duration) bool
}

// spawner is the subset of spawnqueue.Queue the plan engine uses.
type spawner interface {
	Submit(ctx context.Context, label string, fn spawnqueue.SpawnFunc) error
}

// headlessRuntime is the subset of headless.Runtime the plan engine drives.
type headlessRuntime interface {
	Start(ctx context.Context, opts headless.StartOptions) (*model.HeadlessAgentInfo, error)
	Destroy(ctx context.Context, taskID string, isStandalone bool) error
}

// taskClient is the subset of taskstore.Client the plan engine drives.
type taskClient interface {
	Available() bool
	Ensure(ctx context.Context, planID string) error
	Create(ctx context.Context, planID string, opts taskstore.CreateOptions) (string, error)
	List(ctx context.Context, planID string, opts taskstore.ListOptions) ([]*taskstore.Task, error)
	Get(ctx context.Context, planID, taskID string) (*taskstore.Task, error)
	Update(ctx context.Context, planID, taskID string, opts taskstore.UpdateOptions) error
	Relabel(ctx context.Context, planID, taskID, from, to string) error
	Close(ctx context.Context, planID, taskID, message string) error
}

// gitManager is the subset of gitwt.Manager the plan engine drives.
type gitManager interface {
	GenerateUniqueBranchName(ctx context.Context, repoPath, planID, taskTitle string) (string, error)
	CreateWorktree(ctx context.Context, repoPath, branch, baseRef, dirName string) (string, error)
	RemoveWorktree(ctx context.Context, repoPath, worktreePath, branch string, removeBranch bool) error
	PruneWorktrees(ctx context.Context, repoPath string) error
	PushBranch(ctx context.Context, worktreePath, branch string) error
	PushToRemoteBranch(ctx context.Context, worktreePath, remoteBranch string) error
	FetchAndRebase(ctx context.Context, worktreePath, baseBranch string) error
	GetCommitsBetween(ctx context.Context, repoPath, baseRef, headRef string) ([]string, error)
	GetHeadCommit(ctx context.Context, repoPath string) (string, error)
}

// tabManager is the subset of wsstate.Manager the plan engine drives.
type tabManager interface {
	CreatePlanTab(planID, name string) (*model.Tab, error)
	DeleteTab(tabID string) error
	AddAgentToTab(tabID, agentID string, gridCapacity int) error
	RemoveAgentFromTab(agentID string) error
}

// command is one mutation or read routed through the actor's run loop,
// the same shape as wsstate's command/result pair.
type command struct {
	fn   func(*state) (interface{}, error)
	resp chan result
}

type result struct {
	val interface{}
	err error
}

// state is the actor's private, single-goroutine-owned bookkeeping.
// Never touch these fields outside a command's fn. The plan/assignment/
// worktree records themselves live in the store, not here — but the
// in-memory tracking with no on-disk representation (the executePlan
// idempotency guard, the set of running poll loops, and the agentID ->
// terminal id map, none of which survive a restart) is actor-owned the
// same way wsstate.state owns tabs/focus/attention.
type state struct {
	guard     map[string]bool               // planID -> executePlan already invoked
	pollers   map[string]context.CancelFunc // planID -> running poll loop's stop
	terminals map[string]string             // agentID -> ptysup terminal id
}

// Manager is the plan engine (C10): lifecycle operations plus one
// background poll goroutine per plan in {delegating, in_progress}, with
// every state mutation serialized through a single actor loop.
type Manager struct {
	store      *store.Store
	bus        eventbus.Bus
	log        *logger.Logger
	cfg        config.PlanConfig
	agentCfg   config.AgentConfig
	sup        supervisor
	queue      spawner
	tasks      taskClient
	git        gitManager
	headlessRT headlessRuntime
	tabs       tabManager

	cmds chan command

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the plan engine to its collaborators and starts its actor loop.
func New(
	st *store.Store,
	bus eventbus.Bus,
	cfg config.PlanConfig,
	agentCfg config.AgentConfig,
	sup supervisor,
	queue spawner,
	tasks taskClient,
	git gitManager,
	headlessRT headlessRuntime,
	tabs tabManager,
	log *logger.Logger,
) *Manager {
	if log == nil {
		log = logger.Default()
	}
	if rt, ok := headlessRT.(*headless.Runtime); ok && rt == nil {
		headlessRT = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:      st,
		bus:        bus,
		log:        log.WithFields(zap.String("component", "plan")),
		cfg:        cfg,
		agentCfg:   agentCfg,
		sup:        sup,
		queue:      queue,
		tasks:      tasks,
		git:        git,
		headlessRT: headlessRT,
		tabs:       tabs,
		cmds:       make(chan command),
		ctx:        ctx,
		cancel:     cancel,
	}
	s := &state{
		guard:     make(map[string]bool),
		pollers:   make(map[string]context.CancelFunc),
		terminals: make(map[string]string),
	}
	go m.run(ctx, s)
	return m
}

// run is the actor: every guard/poller/terminal read or write and every
// plan lifecycle transition executes here, one command at a time.
func (m *Manager) run(ctx context.Context, s *state) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.cmds:
			val, err := cmd.fn(s)
			cmd.resp <- result{val: val, err: err}
		}
	}
}

// call submits fn to the actor and blocks for its result. Code that is
// already running inside another command's fn must never call call()
// again — it would deadlock against run()'s single-threaded receive loop.
// Such code instead takes *state directly and uses the *Locked helpers.
func (m *Manager) call(fn func(*state) (interface{}, error)) (interface{}, error) {
	resp := make(chan result, 1)
	m.cmds <- command{fn: fn, resp: resp}
	r := <-resp
	return r.val, r.err
}

// getTerminal looks up agentID's tracked PTY terminal id. For callers not
// already inside a command (tests, HTTP handlers).
func (m *Manager) getTerminal(agentID string) (string, bool) {
	type pair struct {
		id string
		ok bool
	}
	v, _ := m.call(func(s *state) (interface{}, error) {
		id, ok := getTerminalLocked(s, agentID)
		return pair{id, ok}, nil
	})
	p := v.(pair)
	return p.id, p.ok
}

func setTerminalLocked(s *state, agentID, terminalID string) {
	s.terminals[agentID] = terminalID
}

func getTerminalLocked(s *state, agentID string) (string, bool) {
	t, ok := s.terminals[agentID]
	return t, ok
}

func clearTerminalLocked(s *state, agentID string) {
	delete(s.terminals, agentID)
}

// ensurePollerLocked starts planID's poll goroutine if one isn't already
// running. Must be called from inside a command's fn.
func ensurePollerLocked(m *Manager, s *state, planID string) {
	if _, ok := s.pollers[planID]; ok {
		return
	}
	pctx, cancel := context.WithCancel(m.ctx)
	s.pollers[planID] = cancel
	go m.runPoller(pctx, planID)
}

// cancelPollerLocked stops planID's poll goroutine, if running. Must be
// called from inside a command's fn.
func cancelPollerLocked(s *state, planID string) {
	if cancel, ok := s.pollers[planID]; ok {
		cancel()
		delete(s.pollers, planID)
	}
}

// stopPoller cancels planID's poll goroutine, if running. For callers not
// already inside a command (tests, HTTP handlers).
func (m *Manager) stopPoller(planID string) {
	m.call(func(s *state) (interface{}, error) {
		cancelPollerLocked(s, planID)
		return nil, nil
	})
}

func (m *Manager) pollInterval() time.Duration {
	secs := m.cfg.PollIntervalSeconds
	if secs <= 0 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

func (m *Manager) maxParallel(p *model.Plan) int {
	if p.MaxParallelAgents > 0 {
		return p.MaxParallelAgents
	}
	return 4
}

// persistAndPublish saves plan and emits plan-update, stamping UpdatedAt.
func (m *Manager) persistAndPublish(ctx context.Context, p *model.Plan) error {
	p.UpdatedAt = time.Now().UTC()
	if err := m.store.SavePlan(ctx, p); err != nil {
		return apperrors.Persistence("save plan", err)
	}
	m.bus.Publish(eventbus.PlanUpdate, p)
	return nil
}

// activity appends an append-only log entry and emits plan-activity.
func (m *Manager) activity(ctx context.Context, planID string, typ model.ActivityType, message, details string) {
	a := &model.PlanActivity{
		ID:        uuid.New().String(),
		PlanID:    planID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Message:   message,
		Details:   details,
	}
	if err := m.store.AppendActivity(ctx, planID, a); err != nil {
		m.log.Warn("failed to persist plan activity", zap.String("plan_id", planID), zap.Error(err))
	}
	m.bus.Publish(eventbus.PlanActivity, a)
}

// saveAssignments persists the full assignment slice for planID.
func (m *Manager) saveAssignments(ctx context.Context, planID string, assignments []*model.TaskAssignment) error {
	return m.store.SaveAssignments(ctx, planID, assignments)
}

func (m *Manager) findAssignment(assignments []*model.TaskAssignment, taskID string) *model.TaskAssignment {
	for _, a := range assignments {
		if a.TaskID == taskID {
			return a
		}
	}
	return nil
}

func (m *Manager) findWorktree(worktrees []*model.PlanWorktree, taskID string) *model.PlanWorktree {
	for _, w := range worktrees {
		if w.TaskID == taskID {
			return w
		}
	}
	return nil
}

func (m *Manager) findRepoByName(ctx context.Context, name string) (*model.Repository, error) {
	repos, err := m.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, nil
}

func (m *Manager) findAgentByTask(ctx context.Context, taskID string) (*model.Agent, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.TaskID == taskID {
			return a, nil
		}
	}
	return nil, nil
}

// Close stops every running poll loop and then the actor itself,
// best-effort. Call during shutdown.
func (m *Manager) Close() {
	m.call(func(s *state) (interface{}, error) {
		for id, cancel := range s.pollers {
			cancel()
			delete(s.pollers, id)
		}
		return nil, nil
	})
	m.cancel()
}

func planDirName(planID string) string {
	return fmt.Sprintf("plan-%s", planID)
}
