// Package spawnqueue bounds how many PTY-backed agents can be mid-launch
// at once (spec §4.5), so a burst of plan task dispatches or a user
// opening many tabs at startup cannot fork-bomb the host with assistant
// CLI processes. Concurrency is capped with golang.org/x/sync/semaphore,
// the same package the teacher's go.mod already carries for errgroup-style
// supervision elsewhere in the orchestrator.
package spawnqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
)

// SpawnFunc performs one agent launch. It is run with the queue's
// concurrency slot held and should return promptly once the launch is
// underway; it does not need to wait for the agent to become ready.
type SpawnFunc func(ctx context.Context) error

// Queue serializes and bounds concurrent agent launches.
type Queue struct {
	sem         *semaphore.Weighted
	delay       time.Duration
	bus         eventbus.Bus
	log         *logger.Logger

	mu      sync.Mutex
	pending []string // opaque labels for in-flight status reporting
	active  int
}

// New creates a Queue that runs at most concurrency launches at a time.
// Each launch keeps its slot for delay after its SpawnFunc returns; starts
// that take different free slots are not spaced apart.
func New(concurrency int, delay time.Duration, bus eventbus.Bus, log *logger.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = logger.Default()
	}
	return &Queue{
		sem:   semaphore.NewWeighted(int64(concurrency)),
		delay: delay,
		bus:   bus,
		log:   log.WithFields(zap.String("component", "spawnqueue")),
	}
}

// Submit enqueues fn labelled by label (typically the agent id being
// launched) and blocks the caller until fn has run, returning its error.
// Submit is safe to call from multiple goroutines concurrently; at most
// the configured concurrency of them run fn at once.
func (q *Queue) Submit(ctx context.Context, label string, fn SpawnFunc) error {
	q.mu.Lock()
	q.pending = append(q.pending, label)
	q.publishStatusLocked()
	q.mu.Unlock()

	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.mu.Lock()
		q.removePendingLocked(label)
		q.publishStatusLocked()
		q.mu.Unlock()
		return err
	}
	defer q.sem.Release(1)

	q.mu.Lock()
	q.removePendingLocked(label)
	q.active++
	q.publishStatusLocked()
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.active--
		q.publishStatusLocked()
		q.mu.Unlock()
	}()

	err := fn(ctx)

	if q.delay > 0 {
		select {
		case <-time.After(q.delay):
		case <-ctx.Done():
		}
	}

	if err != nil {
		q.log.Warn("agent spawn failed", zap.String("label", label), zap.Error(err))
	}
	return err
}

func (q *Queue) removePendingLocked(label string) {
	for i, l := range q.pending {
		if l == label {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) publishStatusLocked() {
	if q.bus == nil {
		return
	}
	pending := make([]string, len(q.pending))
	copy(pending, q.pending)
	q.bus.Publish(eventbus.TerminalQueueStatus, eventbus.SpawnQueueStatus{
		Queued:  len(pending),
		Active:  q.active,
		Pending: pending,
	})
}

// CancelAll releases no acquired slots (in-flight launches always run to
// completion) but clears the pending label list so status reporting does
// not show stale entries after a shutdown request; callers should cancel
// the context passed to in-flight Submit calls separately.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	q.pending = nil
	q.publishStatusLocked()
	q.mu.Unlock()
}
