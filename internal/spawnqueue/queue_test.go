package spawnqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueBoundsConcurrency(t *testing.T) {
	q := New(2, 0, nil, nil)

	var inFlight int32
	var maxInFlight int32
	done := make(chan struct{})

	launch := func(i int) {
		err := q.Submit(context.Background(), "agent", func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
		require.NoError(t, err)
		done <- struct{}{}
	}

	for i := 0; i < 5; i++ {
		go launch(i)
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxInFlight)), 2)
}

func TestSubmitPropagatesError(t *testing.T) {
	q := New(1, 0, nil, nil)
	err := q.Submit(context.Background(), "agent", func(ctx context.Context) error {
		return assert.AnError
	})
	assert.Equal(t, assert.AnError, err)
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	q := New(1, 0, nil, nil)

	blockCtx, cancelBlock := context.WithCancel(context.Background())
	started := make(chan struct{})
	go q.Submit(context.Background(), "blocker", func(ctx context.Context) error {
		close(started)
		<-blockCtx.Done()
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Submit(ctx, "waiter", func(ctx context.Context) error { return nil })
	assert.Error(t, err)

	cancelBlock()
}
