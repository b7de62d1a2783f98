package headless

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/store"
)

// fakeRuntime is a containerRuntime double driven entirely in memory, so
// Runtime's event-stream handling can be exercised without a Docker daemon.
type fakeRuntime struct {
	mu       sync.Mutex
	logLines string
	exitCode int64
	waitErr  error
	started  []string
	stopped  []string
	removed  []string
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	return "container-" + spec.Name, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewBufferString(f.logLines)), nil
}

func (f *fakeRuntime) Wait(ctx context.Context, id string) (int64, error) {
	return f.exitCode, f.waitErr
}

func (f *fakeRuntime) Close() error { return nil }

func newTestRuntime(t *testing.T, fr *fakeRuntime) (*Runtime, eventbus.Bus) {
	t.Helper()
	st := store.New(t.TempDir(), nil)
	bus := eventbus.NewMemory(nil)
	cfg := config.DockerConfig{DefaultImage: "bismark/headless:latest"}
	return newRuntime(fr, cfg, st, bus, nil), bus
}

func TestStartPublishesStartedEventAndLaunchesContainer(t *testing.T) {
	fr := &fakeRuntime{logLines: ""}
	rt, bus := newTestRuntime(t, fr)

	started := make(chan eventbus.HeadlessStartedPayload, 1)
	bus.Subscribe(eventbus.HeadlessAgentStarted, func(ev eventbus.Event) {
		if p, ok := ev.Data.(eventbus.HeadlessStartedPayload); ok {
			started <- p
		}
	})

	info, err := rt.Start(context.Background(), StartOptions{TaskID: "t1", PlanID: "p1", WorktreePath: "/wt/t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", info.TaskID)
	assert.NotEmpty(t, info.ContainerID)

	select {
	case p := <-started:
		assert.Equal(t, "t1", p.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for started event")
	}

	assert.Eventually(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.started) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStreamExtractsPRURLFromMessageField(t *testing.T) {
	fr := &fakeRuntime{
		logLines: `{"type":"assistant","message":"opened https://github.com/acme/widgets/pull/42 for review"}` + "\n",
		exitCode: 0,
	}
	rt, bus := newTestRuntime(t, fr)

	updates := make(chan eventbus.HeadlessEventPayload, 4)
	bus.Subscribe(eventbus.HeadlessAgentUpdate, func(ev eventbus.Event) {
		if p, ok := ev.Data.(eventbus.HeadlessEventPayload); ok {
			updates <- p
		}
	})

	_, err := rt.Start(context.Background(), StartOptions{TaskID: "t2", PlanID: "p1", WorktreePath: "/wt/t2"})
	require.NoError(t, err)

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finalize update")
	}

	rt.mu.Lock()
	w := rt.workers["t2"]
	rt.mu.Unlock()
	require.NotNil(t, w)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotNil(t, w.result)
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", w.result.PRURL)
}

func TestStreamExtractsPRURLFromPayloadTextFallback(t *testing.T) {
	fr := &fakeRuntime{
		logLines: `{"type":"content_block_delta","payload":{"text":"see https://github.com/acme/widgets/pull/7."}}` + "\n",
		exitCode: 0,
	}
	rt, bus := newTestRuntime(t, fr)

	updates := make(chan eventbus.HeadlessEventPayload, 4)
	bus.Subscribe(eventbus.HeadlessAgentUpdate, func(ev eventbus.Event) {
		if p, ok := ev.Data.(eventbus.HeadlessEventPayload); ok {
			updates <- p
		}
	})

	_, err := rt.Start(context.Background(), StartOptions{TaskID: "t3", PlanID: "p1", WorktreePath: "/wt/t3"})
	require.NoError(t, err)

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finalize update")
	}

	rt.mu.Lock()
	w := rt.workers["t3"]
	rt.mu.Unlock()
	require.NotNil(t, w)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotNil(t, w.result)
	// trailing "." must be trimmed by lastMatch
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", w.result.PRURL)
}

func TestFinalizeMarksFailedOnNonZeroExit(t *testing.T) {
	fr := &fakeRuntime{logLines: "", exitCode: 1}
	rt, bus := newTestRuntime(t, fr)

	updates := make(chan eventbus.HeadlessEventPayload, 4)
	bus.Subscribe(eventbus.HeadlessAgentUpdate, func(ev eventbus.Event) {
		if p, ok := ev.Data.(eventbus.HeadlessEventPayload); ok {
			updates <- p
		}
	})

	_, err := rt.Start(context.Background(), StartOptions{TaskID: "t4", PlanID: "p1", WorktreePath: "/wt/t4"})
	require.NoError(t, err)

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finalize update")
	}

	rt.mu.Lock()
	w := rt.workers["t4"]
	rt.mu.Unlock()
	require.NotNil(t, w)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, "failed", string(w.status))
}

func TestDestroyStopsAndRemovesContainer(t *testing.T) {
	fr := &fakeRuntime{logLines: "", exitCode: 0}
	rt, _ := newTestRuntime(t, fr)

	info, err := rt.Start(context.Background(), StartOptions{TaskID: "t5", PlanID: "p1", WorktreePath: "/wt/t5"})
	require.NoError(t, err)

	require.NoError(t, rt.Destroy(context.Background(), "t5", false))

	assert.Eventually(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.stopped) == 1 && len(fr.removed) == 1 && fr.stopped[0] == info.ContainerID
	}, time.Second, 10*time.Millisecond)
}

func TestStripDockerHeaderNoOpOnPlainJSON(t *testing.T) {
	line := []byte(`{"type":"init"}`)
	assert.Equal(t, line, stripDockerHeader(line))
}
