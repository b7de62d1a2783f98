package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/headless"
	"github.com/bismarkhq/bismark/internal/model"
	"github.com/bismarkhq/bismark/internal/ptysup"
	"github.com/bismarkhq/bismark/internal/store"
	"github.com/bismarkhq/bismark/internal/taskstore"
)

// --- fakes -------------------------------------------------------------

type fakeEmitter struct {
	mu   sync.Mutex
	subs []func([]byte)
}

func (e *fakeEmitter) Subscribe(fn func(chunk []byte)) func() {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	idx := len(e.subs) - 1
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.subs[idx] = nil
		e.mu.Unlock()
	}
}

func (e *fakeEmitter) Emit(chunk []byte) {
	e.mu.Lock()
	subs := append([]func([]byte){}, e.subs...)
	e.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(chunk)
		}
	}
}

type fakeSupervisor struct {
	mu       sync.Mutex
	seq      int
	created  []ptysup.CreateOptions
	writes   map[string][]string
	closed   map[string]bool
	emitters map[string]*fakeEmitter
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		writes:   make(map[string][]string),
		closed:   make(map[string]bool),
		emitters: make(map[string]*fakeEmitter),
	}
}

func (f *fakeSupervisor) Create(opts ptysup.CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("term-%d", f.seq)
	f.created = append(f.created, opts)
	f.emitters[id] = &fakeEmitter{}
	return id, nil
}

func (f *fakeSupervisor) Write(terminalID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[terminalID] = append(f.writes[terminalID], string(data))
	return nil
}

func (f *fakeSupervisor) Close(terminalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[terminalID] = true
	return nil
}

func (f *fakeSupervisor) GetEmitter(terminalID string) (ptysup.Emitter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emitters[terminalID], nil
}

func (f *fakeSupervisor) WaitForOutput(terminalID string, match func([]byte) bool, timeout time.Duration) bool {
	f.mu.Lock()
	em := f.emitters[terminalID]
	f.mu.Unlock()
	if em == nil {
		return false
	}
	found := make(chan struct{}, 1)
	cancel := em.Subscribe(func(chunk []byte) {
		if match(chunk) {
			select {
			case found <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()
	select {
	case <-found:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (f *fakeSupervisor) emitTo(terminalID string, chunk string) {
	f.mu.Lock()
	em := f.emitters[terminalID]
	f.mu.Unlock()
	if em != nil {
		em.Emit([]byte(chunk))
	}
}

type fakeSpawner struct{}

func (fakeSpawner) Submit(ctx context.Context, label string, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeHeadlessRuntime struct {
	mu      sync.Mutex
	started []headless.StartOptions
}

func (f *fakeHeadlessRuntime) Start(ctx context.Context, opts headless.StartOptions) (*model.HeadlessAgentInfo, error) {
	f.mu.Lock()
	f.started = append(f.started, opts)
	f.mu.Unlock()
	return &model.HeadlessAgentInfo{TaskID: opts.TaskID, PlanID: opts.PlanID, Status: model.HeadlessRunning}, nil
}

func (f *fakeHeadlessRuntime) Destroy(ctx context.Context, taskID string, isStandalone bool) error {
	return nil
}

type fakeTaskClient struct {
	mu        sync.Mutex
	tasks     map[string]*taskstore.Task
	available bool
}

func newFakeTaskClient() *fakeTaskClient {
	return &fakeTaskClient{tasks: make(map[string]*taskstore.Task), available: true}
}

func (f *fakeTaskClient) addTask(t *taskstore.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

func (f *fakeTaskClient) Available() bool { return f.available }

func (f *fakeTaskClient) Ensure(ctx context.Context, planID string) error { return nil }

func (f *fakeTaskClient) Create(ctx context.Context, planID string, opts taskstore.CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New().String()
	f.tasks[id] = &taskstore.Task{ID: id, Title: opts.Title, Status: taskstore.StatusOpen, Labels: opts.Labels}
	return id, nil
}

func (f *fakeTaskClient) List(ctx context.Context, planID string, opts taskstore.ListOptions) ([]*taskstore.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*taskstore.Task
	for _, t := range f.tasks {
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		matches := true
		for _, l := range opts.Labels {
			if !t.HasLabel(l) {
				matches = false
				break
			}
		}
		if !matches {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTaskClient) Get(ctx context.Context, planID, taskID string) (*taskstore.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[taskID], nil
}

func (f *fakeTaskClient) Update(ctx context.Context, planID, taskID string, opts taskstore.UpdateOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil
	}
	for _, l := range opts.RemoveLabels {
		out := t.Labels[:0]
		for _, existing := range t.Labels {
			if existing != l {
				out = append(out, existing)
			}
		}
		t.Labels = out
	}
	t.Labels = append(t.Labels, opts.AddLabels...)
	return nil
}

func (f *fakeTaskClient) Relabel(ctx context.Context, planID, taskID, from, to string) error {
	return f.Update(ctx, planID, taskID, taskstore.UpdateOptions{AddLabels: []string{to}, RemoveLabels: []string{from}})
}

func (f *fakeTaskClient) Close(ctx context.Context, planID, taskID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		t.Status = taskstore.StatusClosed
	}
	return nil
}

type fakeGitManager struct {
	mu       sync.Mutex
	counter  int
	removed  []string
	pushed   []string
	rebased  []string
}

func (f *fakeGitManager) GenerateUniqueBranchName(ctx context.Context, repoPath, planID, taskTitle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return fmt.Sprintf("bismark/%s/task-%d", shortID(planID), f.counter), nil
}

func (f *fakeGitManager) CreateWorktree(ctx context.Context, repoPath, branch, baseRef, dirName string) (string, error) {
	return filepath.Join(repoPath, "worktrees", dirName), nil
}

func (f *fakeGitManager) RemoveWorktree(ctx context.Context, repoPath, worktreePath, branch string, removeBranch bool) error {
	f.mu.Lock()
	f.removed = append(f.removed, worktreePath)
	f.mu.Unlock()
	return nil
}

func (f *fakeGitManager) PruneWorktrees(ctx context.Context, repoPath string) error { return nil }

func (f *fakeGitManager) PushBranch(ctx context.Context, worktreePath, branch string) error {
	f.mu.Lock()
	f.pushed = append(f.pushed, branch)
	f.mu.Unlock()
	return nil
}

func (f *fakeGitManager) PushToRemoteBranch(ctx context.Context, worktreePath, remoteBranch string) error {
	return nil
}

func (f *fakeGitManager) FetchAndRebase(ctx context.Context, worktreePath, baseBranch string) error {
	f.mu.Lock()
	f.rebased = append(f.rebased, worktreePath)
	f.mu.Unlock()
	return nil
}

func (f *fakeGitManager) GetCommitsBetween(ctx context.Context, repoPath, baseRef, headRef string) ([]string, error) {
	return []string{"deadbeef"}, nil
}

func (f *fakeGitManager) GetHeadCommit(ctx context.Context, repoPath string) (string, error) {
	return "deadbeef", nil
}

type fakeTabManager struct {
	mu         sync.Mutex
	tabs       map[string]*model.Tab
	membership map[string][]string
	deleted    []string
}

func newFakeTabManager() *fakeTabManager {
	return &fakeTabManager{tabs: make(map[string]*model.Tab), membership: make(map[string][]string)}
}

func (f *fakeTabManager) CreatePlanTab(planID, name string) (*model.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &model.Tab{ID: uuid.New().String(), Name: name, IsPlanTab: true, PlanID: planID, AgentIDs: []string{}}
	f.tabs[t.ID] = t
	return t, nil
}

func (f *fakeTabManager) DeleteTab(tabID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tabs, tabID)
	delete(f.membership, tabID)
	f.deleted = append(f.deleted, tabID)
	return nil
}

func (f *fakeTabManager) AddAgentToTab(tabID, agentID string, gridCapacity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.membership[tabID] = append(f.membership[tabID], agentID)
	return nil
}

func (f *fakeTabManager) RemoveAgentFromTab(agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tabID, ids := range f.membership {
		out := ids[:0]
		for _, id := range ids {
			if id != agentID {
				out = append(out, id)
			}
		}
		f.membership[tabID] = out
	}
	return nil
}

// --- harness -------------------------------------------------------------

type harness struct {
	mgr  *Manager
	sup  *fakeSupervisor
	tasks *fakeTaskClient
	git  *fakeGitManager
	tabs *fakeTabManager
	hl   *fakeHeadlessRuntime
	st   *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.New(t.TempDir(), nil)
	bus := eventbus.NewMemory(nil)
	sup := newFakeSupervisor()
	tasks := newFakeTaskClient()
	git := &fakeGitManager{}
	tabs := newFakeTabManager()
	hl := &fakeHeadlessRuntime{}

	cfg := config.PlanConfig{PollIntervalSeconds: 1, MaxParallelAgents: 4}
	agentCfg := config.AgentConfig{Binary: "claude"}

	mgr := New(st, bus, cfg, agentCfg, sup, fakeSpawner{}, tasks, git, hl, tabs, nil)
	t.Cleanup(mgr.Close)

	return &harness{mgr: mgr, sup: sup, tasks: tasks, git: git, tabs: tabs, hl: hl, st: st}
}

func (h *harness) addRepo(t *testing.T, name string) *model.Repository {
	t.Helper()
	repo := &model.Repository{ID: uuid.New().String(), Name: name, RootPath: "/repos/" + name, DefaultBranch: "main"}
	require.NoError(t, h.st.SaveRepository(context.Background(), repo))
	return repo
}

// --- tests -----------------------------------------------------------

func TestExecutePlanIsIdempotentAndSpawnsOrchestratorAndPlanner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.mgr.CreatePlan(ctx, "Ship feature", "do the thing")
	require.NoError(t, err)

	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))
	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))

	got, err := h.mgr.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanDelegating, got.Status)
	assert.NotEmpty(t, got.OrchestratorAgentID)
	assert.NotEmpty(t, got.PlannerAgentID)
	assert.NotEmpty(t, got.OrchestratorTabID)

	agents, err := h.st.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 2, "exactly one orchestrator and one planner, even after two executePlan calls")

	h.mgr.stopPoller(p.ID)
}

func TestProcessReadyTaskDispatchesInteractiveWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	repo := h.addRepo(t, "widgets")
	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)
	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))
	t.Cleanup(func() { h.mgr.stopPoller(p.ID) })

	h.tasks.addTask(&taskstore.Task{
		ID: "T1", Title: "fix login", Status: taskstore.StatusOpen,
		Labels: []string{taskstore.LabelReady, "repo:" + repo.Name, "worktree:fix-login"},
	})

	require.NoError(t, h.mgr.pollOnce(ctx, p.ID))

	assignments, err := h.st.LoadAssignments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, model.AssignmentSent, assignments[0].Status)
	assert.NotEmpty(t, assignments[0].WorkerAgentID)

	worktrees, err := h.st.LoadWorktrees(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, worktrees, 1)
	assert.Equal(t, model.WorktreeActive, worktrees[0].Status)
	assert.True(t, strings.Contains(worktrees[0].Path, "fix-login"))

	task, err := h.tasks.Get(ctx, p.ID, "T1")
	require.NoError(t, err)
	assert.True(t, task.HasLabel(taskstore.LabelSent))
	assert.False(t, task.HasLabel(taskstore.LabelReady))
}

func TestProcessReadyTaskWarnsOnMissingLabels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)
	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))
	t.Cleanup(func() { h.mgr.stopPoller(p.ID) })

	h.tasks.addTask(&taskstore.Task{ID: "T1", Title: "no labels", Status: taskstore.StatusOpen, Labels: []string{taskstore.LabelReady}})

	require.NoError(t, h.mgr.pollOnce(ctx, p.ID))

	assignments, err := h.st.LoadAssignments(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, assignments)

	activities, err := h.st.LoadActivities(ctx, p.ID)
	require.NoError(t, err)
	require.NotEmpty(t, activities)
	assert.Equal(t, model.ActivityWarning, activities[len(activities)-1].Type)
}

func TestAdmissionControlSaturatesAtMaxParallel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	repo := h.addRepo(t, "widgets")
	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)
	p.MaxParallelAgents = 1
	require.NoError(t, h.st.SavePlan(ctx, p))
	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))
	t.Cleanup(func() { h.mgr.stopPoller(p.ID) })

	h.tasks.addTask(&taskstore.Task{ID: "T1", Title: "a", Status: taskstore.StatusOpen, Labels: []string{taskstore.LabelReady, "repo:" + repo.Name, "worktree:a"}})
	h.tasks.addTask(&taskstore.Task{ID: "T2", Title: "b", Status: taskstore.StatusOpen, Labels: []string{taskstore.LabelReady, "repo:" + repo.Name, "worktree:b"}})

	require.NoError(t, h.mgr.pollOnce(ctx, p.ID))

	assignments, err := h.st.LoadAssignments(ctx, p.ID)
	require.NoError(t, err)
	outstanding := 0
	for _, a := range assignments {
		if a.Status.IsOutstanding() {
			outstanding++
		}
	}
	assert.Equal(t, 1, outstanding, "only one of the two ready tasks should be admitted at maxParallelAgents=1")
}

func TestPollOnceCompletesTaskAndSignalsWorkerExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	repo := h.addRepo(t, "widgets")
	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)
	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))
	t.Cleanup(func() { h.mgr.stopPoller(p.ID) })

	h.tasks.addTask(&taskstore.Task{ID: "T1", Title: "a", Status: taskstore.StatusOpen, Labels: []string{taskstore.LabelReady, "repo:" + repo.Name, "worktree:a"}})
	require.NoError(t, h.mgr.pollOnce(ctx, p.ID))

	assignments, err := h.st.LoadAssignments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	workerAgentID := assignments[0].WorkerAgentID
	require.NotEmpty(t, workerAgentID)

	terminalID, ok := h.mgr.getTerminal(workerAgentID)
	require.True(t, ok)

	require.NoError(t, h.tasks.Close(ctx, p.ID, "T1", ""))
	require.NoError(t, h.mgr.pollOnce(ctx, p.ID))

	assignments, err = h.st.LoadAssignments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, model.AssignmentCompleted, assignments[0].Status)

	h.sup.mu.Lock()
	writes := h.sup.writes[terminalID]
	h.sup.mu.Unlock()
	require.NotEmpty(t, writes, "poller must signal the completed task worker's PTY to exit")
	assert.Contains(t, writes[0], "/exit")
}

func TestPollOnceTransitionsToReadyForReviewWhenAllTasksClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	repo := h.addRepo(t, "widgets")
	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)
	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))
	t.Cleanup(func() { h.mgr.stopPoller(p.ID) })

	h.tasks.addTask(&taskstore.Task{ID: "T1", Title: "a", Status: taskstore.StatusOpen, Labels: []string{taskstore.LabelReady, "repo:" + repo.Name, "worktree:a"}})
	require.NoError(t, h.mgr.pollOnce(ctx, p.ID))
	require.NoError(t, h.tasks.Close(ctx, p.ID, "T1", ""))
	require.NoError(t, h.mgr.pollOnce(ctx, p.ID))

	got, err := h.mgr.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanReadyForReview, got.Status)
}

func TestCancelPlanPhaseACleansUpAgentsAndTab(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)
	require.NoError(t, h.mgr.ExecutePlan(ctx, p.ID, ""))

	before, err := h.mgr.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	tabID := before.OrchestratorTabID
	require.NotEmpty(t, tabID)

	require.NoError(t, h.mgr.CancelPlan(ctx, p.ID))

	got, err := h.mgr.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, got.Status)
	assert.Empty(t, got.OrchestratorAgentID)
	assert.Empty(t, got.PlannerAgentID)

	agents, err := h.st.ListAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)

	assert.Contains(t, h.tabs.deleted, tabID)
}

func TestCompletePlanFeatureBranchStrategyRebasesAndRemovesWorktrees(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	repo := h.addRepo(t, "widgets")
	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)
	p.Status = model.PlanReadyForReview
	p.OrchestratorAgentID = "orch-1"
	require.NoError(t, h.st.SavePlan(ctx, p))

	wt := &model.PlanWorktree{
		PlanID: p.ID, TaskID: "T1", RepositoryID: repo.ID,
		Path: "/repos/widgets/worktrees/fix-login", Branch: "bismark/plan/task-1",
		Status: model.WorktreeActive, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.st.SaveWorktrees(ctx, p.ID, []*model.PlanWorktree{wt}))

	require.NoError(t, h.mgr.CompletePlan(ctx, p.ID))

	got, err := h.mgr.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanCompleted, got.Status)
	assert.NotEmpty(t, got.GitSummary.Commits)

	h.git.mu.Lock()
	defer h.git.mu.Unlock()
	assert.Contains(t, h.git.rebased, wt.Path)
	assert.Contains(t, h.git.removed, wt.Path)
}

func TestStartDiscussionTransitionsToDiscussedOnPlannerExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.mgr.CreatePlan(ctx, "Plan", "desc")
	require.NoError(t, err)

	require.NoError(t, h.mgr.StartDiscussion(ctx, p.ID, ""))

	got, err := h.mgr.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanDiscussing, got.Status)
	require.NotEmpty(t, got.PlannerAgentID)

	terminalID, ok := h.mgr.getTerminal(got.PlannerAgentID)
	require.True(t, ok)

	h.sup.emitTo(terminalID, "the plan looks good. Goodbye")

	require.Eventually(t, func() bool {
		p, err := h.mgr.GetPlan(ctx, p.ID)
		return err == nil && p.Status == model.PlanDiscussed
	}, 2*time.Second, 10*time.Millisecond)
}
