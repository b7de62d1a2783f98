package headless

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/model"
	"github.com/bismarkhq/bismark/internal/store"
)

var prURLPattern = regexp.MustCompile(`https?://github\.com/[^/\s]+/[^/\s]+/pull/\d+(?:[^\w/]|$)`)

const persistDebounce = 2 * time.Second

// Runtime supervises every headless worker container.
type Runtime struct {
	docker containerRuntime
	store  *store.Store
	bus    eventbus.Bus
	log    *logger.Logger
	cfg    config.DockerConfig

	mu      sync.Mutex
	workers map[string]*worker // taskID -> worker
}

// NewRuntime creates a Runtime backed by Docker.
func NewRuntime(cfg config.DockerConfig, st *store.Store, bus eventbus.Bus, log *logger.Logger) (*Runtime, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "headless"))

	dc, err := newDockerClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return newRuntime(dc, cfg, st, bus, log), nil
}

// newRuntime builds a Runtime around any containerRuntime, letting tests
// substitute a fake in place of a real Docker daemon.
func newRuntime(docker containerRuntime, cfg config.DockerConfig, st *store.Store, bus eventbus.Bus, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Default()
	}
	return &Runtime{
		docker:  docker,
		store:   st,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		workers: make(map[string]*worker),
	}
}

// worker tracks one container's lifecycle and the task/plan it belongs to.
type worker struct {
	taskID       string
	planID       string // empty for a standalone headless run
	containerID  string
	worktreePath string
	lastPrompt   string

	mu          sync.Mutex
	status      model.HeadlessStatus
	result      *model.HeadlessResult
	startedAt   time.Time
	flushTimer  *time.Timer
	pendingSave []model.StreamEvent
}

func (w *worker) info() *model.HeadlessAgentInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &model.HeadlessAgentInfo{
		TaskID:       w.taskID,
		PlanID:       w.planID,
		ContainerID:  w.containerID,
		Status:       w.status,
		WorktreePath: w.worktreePath,
		StartedAt:    w.startedAt,
		Result:       w.result,
	}
}

// StartOptions parameterizes Runtime.Start.
type StartOptions struct {
	TaskID       string
	PlanID       string // empty marks a standalone run
	Image        string
	Env          []string
	WorktreePath string
	Prompt       string
}

// Start creates and launches a headless worker container for a task,
// returning once the container is running; progress streams in the
// background via the event bus.
func (r *Runtime) Start(ctx context.Context, opts StartOptions) (*model.HeadlessAgentInfo, error) {
	image := opts.Image
	if image == "" {
		image = r.cfg.DefaultImage
	}

	spec := ContainerSpec{
		Name:       "bismark-headless-" + opts.TaskID,
		Image:      image,
		Env:        append(opts.Env, "BISMARK_PROMPT="+opts.Prompt, "BISMARK_TASK_ID="+opts.TaskID),
		WorkingDir: "/workspace",
		Mounts:     []MountSpec{{Source: opts.WorktreePath, Target: "/workspace"}},
		Labels:     map[string]string{"bismark.task": opts.TaskID, "bismark.plan": opts.PlanID},
	}

	containerID, err := r.docker.CreateContainer(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := r.docker.StartContainer(ctx, containerID); err != nil {
		return nil, err
	}

	w := &worker{
		taskID:       opts.TaskID,
		planID:       opts.PlanID,
		containerID:  containerID,
		worktreePath: opts.WorktreePath,
		lastPrompt:   opts.Prompt,
		status:       model.HeadlessRunning,
		startedAt:    time.Now(),
	}

	r.mu.Lock()
	r.workers[opts.TaskID] = w
	r.mu.Unlock()

	go r.stream(context.Background(), w)

	r.publish(opts.PlanID, opts.TaskID, eventbus.HeadlessStartedPayload{
		TaskID: opts.TaskID, PlanID: opts.PlanID, WorktreePath: opts.WorktreePath,
	}, eventbus.HeadlessAgentStarted)

	return &model.HeadlessAgentInfo{
		TaskID:      opts.TaskID,
		PlanID:      opts.PlanID,
		ContainerID: containerID,
		Status:      model.HeadlessRunning,
		StartedAt:   time.Now(),
	}, nil
}

// stream reads line-delimited JSON progress events from the container's
// stdout, tolerating malformed or partial lines (log and continue), and
// persists a debounced snapshot rather than flushing on every event.
func (r *Runtime) stream(ctx context.Context, w *worker) {
	logs, err := r.docker.Logs(ctx, w.containerID)
	if err != nil {
		r.fail(w, fmt.Errorf("attach to container logs: %w", err))
		return
	}
	defer logs.Close()

	scanner := bufio.NewScanner(logs)
	scanner.Buffer(make([]byte, 65536), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.StreamEvent
		if err := json.Unmarshal(stripDockerHeader(line), &ev); err != nil {
			r.log.Debug("discarding malformed headless stream line", zap.String("task_id", w.taskID), zap.Error(err))
			continue
		}
		ev.ID = uuid.New().String()
		ev.Timestamp = time.Now()

		r.handleEvent(w, ev)
	}

	exitCode, waitErr := r.docker.Wait(ctx, w.containerID)
	r.finalize(w, exitCode, waitErr)
}

// stripDockerHeader removes the 8-byte multiplexed stream header Docker
// prepends to each log line when the container was created without a TTY.
func stripDockerHeader(line []byte) []byte {
	if len(line) > 8 && line[0] <= 2 && line[1] == 0 && line[2] == 0 {
		return line[8:]
	}
	return line
}

func (r *Runtime) handleEvent(w *worker, ev model.StreamEvent) {
	w.mu.Lock()
	w.pendingSave = append(w.pendingSave, ev)
	if w.flushTimer == nil {
		w.flushTimer = time.AfterFunc(persistDebounce, func() { r.flush(w) })
	}
	w.mu.Unlock()

	r.publish(w.planID, w.taskID, eventbus.HeadlessEventPayload{PlanID: w.planID, TaskID: w.taskID, Event: ev}, eventbus.HeadlessAgentEvent)

	text := ev.Message
	if text == "" {
		text = ev.TextPayload()
	}
	if match := prURLPattern.FindAllString(text, -1); len(match) > 0 {
		w.mu.Lock()
		if w.result == nil {
			w.result = &model.HeadlessResult{}
		}
		w.result.PRURL = lastMatch(match)
		w.mu.Unlock()
	}
}

func lastMatch(matches []string) string {
	last := matches[len(matches)-1]
	// the pattern's (?:[^\w/]|$) tail captures the one character after the
	// PR number; trim back to the final digit
	for len(last) > 0 {
		c := last[len(last)-1]
		if c < '0' || c > '9' {
			last = last[:len(last)-1]
			continue
		}
		break
	}
	return last
}

func (r *Runtime) flush(w *worker) {
	w.mu.Lock()
	events := w.pendingSave
	w.pendingSave = nil
	w.flushTimer = nil
	w.mu.Unlock()

	ctx := context.Background()
	for _, ev := range events {
		if err := r.store.AppendHeadlessEvent(ctx, w.planID, w.taskID, ev); err != nil {
			r.log.Warn("failed to persist headless event", zap.String("task_id", w.taskID), zap.Error(err))
		}
	}
}

func (r *Runtime) finalize(w *worker, exitCode int64, waitErr error) {
	r.flush(w)

	w.mu.Lock()
	if waitErr != nil {
		w.status = model.HeadlessFailed
	} else if exitCode == 0 {
		w.status = model.HeadlessCompleted
	} else {
		w.status = model.HeadlessFailed
	}
	if w.result == nil {
		w.result = &model.HeadlessResult{}
	}
	w.result.ExitCode = int(exitCode)
	status := w.status
	result := *w.result
	w.mu.Unlock()

	r.publish(w.planID, w.taskID, eventbus.HeadlessEventPayload{
		PlanID: w.planID, TaskID: w.taskID,
		Event: model.StreamEvent{Type: model.StreamEventStatus, Message: string(status)},
	}, eventbus.HeadlessAgentUpdate)

	r.log.Info("headless worker finished", zap.String("task_id", w.taskID), zap.String("status", string(status)), zap.String("pr_url", result.PRURL))
}

func (r *Runtime) fail(w *worker, err error) {
	w.mu.Lock()
	w.status = model.HeadlessFailed
	w.mu.Unlock()
	r.log.Error("headless worker failed", zap.String("task_id", w.taskID), zap.Error(err))
}

func (r *Runtime) publish(planID, taskID string, data interface{}, name string) {
	if r.bus != nil {
		r.bus.Publish(name, data)
	}
}

// Get returns taskID's current HeadlessAgentInfo, or nil if no worker is
// tracked for it.
func (r *Runtime) Get(taskID string) *model.HeadlessAgentInfo {
	r.mu.Lock()
	w, ok := r.workers[taskID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return w.info()
}

// ListForPlan returns every headless worker currently tracked under planID.
func (r *Runtime) ListForPlan(planID string) []*model.HeadlessAgentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.HeadlessAgentInfo
	for _, w := range r.workers {
		if w.planID == planID {
			out = append(out, w.info())
		}
	}
	return out
}

// Stop halts taskID's container without removing it or its record, so its
// worktree and event log survive for a later StartFollowup/Restart.
func (r *Runtime) Stop(ctx context.Context, taskID string) error {
	r.mu.Lock()
	w, ok := r.workers[taskID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	w.mu.Lock()
	w.status = model.HeadlessStopping
	w.mu.Unlock()
	if err := r.docker.StopContainer(ctx, w.containerID, 10*time.Second); err != nil {
		return err
	}
	w.mu.Lock()
	w.status = model.HeadlessIdle
	w.mu.Unlock()
	return nil
}

// StartFollowup relaunches a fresh container for taskID's worktree with a
// new prompt, reusing its worktree path but discarding the prior container.
func (r *Runtime) StartFollowup(ctx context.Context, taskID, prompt string) (*model.HeadlessAgentInfo, error) {
	r.mu.Lock()
	w, ok := r.workers[taskID]
	r.mu.Unlock()
	if !ok {
		return nil, apperrors.NotFound("headless worker", taskID)
	}
	_ = r.Destroy(ctx, taskID, w.planID == "")
	return r.Start(ctx, StartOptions{TaskID: taskID, PlanID: w.planID, WorktreePath: w.worktreePath, Prompt: prompt})
}

// Restart relaunches taskID's container with its last prompt, after a
// failure or an operator-requested retry.
func (r *Runtime) Restart(ctx context.Context, taskID string) (*model.HeadlessAgentInfo, error) {
	r.mu.Lock()
	w, ok := r.workers[taskID]
	r.mu.Unlock()
	if !ok {
		return nil, apperrors.NotFound("headless worker", taskID)
	}
	return r.StartFollowup(ctx, taskID, w.lastPrompt)
}

// ConfirmDone tears down a standalone headless run's container via Destroy;
// its worktree is left in place.
func (r *Runtime) ConfirmDone(ctx context.Context, taskID string) error {
	return r.Destroy(ctx, taskID, true)
}

// Destroy stops and removes the container backing taskID, tolerating
// each sub-step failing independently (spec §4.8: best-effort teardown).
func (r *Runtime) Destroy(ctx context.Context, taskID string, isStandalone bool) error {
	r.mu.Lock()
	w, ok := r.workers[taskID]
	if ok {
		delete(r.workers, taskID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := r.docker.StopContainer(ctx, w.containerID, 10*time.Second); err != nil {
		r.log.Warn("failed to stop headless container", zap.String("task_id", taskID), zap.Error(err))
	}
	if err := r.docker.RemoveContainer(ctx, w.containerID, true); err != nil {
		r.log.Warn("failed to remove headless container", zap.String("task_id", taskID), zap.Error(err))
	}
	return nil
}

// Close releases the underlying Docker client connection.
func (r *Runtime) Close() error {
	return r.docker.Close()
}
