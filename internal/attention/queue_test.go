package attention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bismarkhq/bismark/internal/eventbus"
)

func TestQueuePushIsIdempotentPerAgent(t *testing.T) {
	bus := eventbus.NewMemory(nil)
	q := NewQueue(bus, nil)

	var waitingEvents int
	bus.Subscribe(eventbus.AgentWaiting, func(eventbus.Event) { waitingEvents++ })

	q.Push("agent-1", "needs input")
	q.Push("agent-1", "needs input again")
	q.Push("agent-2", "also waiting")

	require.Equal(t, 2, waitingEvents, "pushing the same agent twice must not re-notify")
	assert.Equal(t, []string{"agent-1", "agent-2"}, q.Snapshot())
}

func TestQueueAckRemovesAgent(t *testing.T) {
	bus := eventbus.NewMemory(nil)
	q := NewQueue(bus, nil)

	q.Push("agent-1", "r1")
	q.Push("agent-2", "r2")

	q.Ack("agent-1")
	assert.Equal(t, []string{"agent-2"}, q.Snapshot())

	// Acking an absent agent is a no-op.
	q.Ack("agent-1")
	assert.Equal(t, []string{"agent-2"}, q.Snapshot())
}

func TestOnSocketEventPushesOnStop(t *testing.T) {
	bus := eventbus.NewMemory(nil)
	q := NewQueue(bus, nil)

	q.OnSocketEvent("agent-1", Event{Event: "stop", Reason: "waiting for review"})
	q.OnSocketEvent("agent-1", Event{Event: "heartbeat"})

	assert.Equal(t, []string{"agent-1"}, q.Snapshot())
}
