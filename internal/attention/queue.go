package attention

import (
	"sync"

	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
)

// Queue tracks which agents are waiting for user attention, in the order
// they started waiting (spec §4.3/§8: the queue is FIFO, an agent appears
// at most once, and acknowledging the focused agent removes it).
type Queue struct {
	mu      sync.Mutex
	order   []string
	reasons map[string]string
	bus     eventbus.Bus
	log     *logger.Logger
}

// NewQueue creates an empty attention Queue that publishes agent-waiting
// and waiting-queue-changed notifications on bus.
func NewQueue(bus eventbus.Bus, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Default()
	}
	return &Queue{
		reasons: make(map[string]string),
		bus:     bus,
		log:     log.WithFields(zap.String("component", "attention-queue")),
	}
}

// OnSocketEvent handles one parsed Event from an agent's attention socket.
// Pass this as the Handler to attention.New so a "stop" event enqueues the
// agent automatically.
func (q *Queue) OnSocketEvent(agentID string, ev Event) {
	switch ev.Event {
	case "stop":
		q.Push(agentID, ev.Reason)
	default:
		q.log.Debug("ignoring unknown attention event", zap.String("agent_id", agentID), zap.String("event", ev.Event))
	}
}

// Push adds agentID to the end of the waiting queue if it is not already
// present, fires a desktop notification, and publishes agent-waiting and
// waiting-queue-changed.
func (q *Queue) Push(agentID, reason string) {
	q.mu.Lock()
	_, already := q.reasons[agentID]
	if !already {
		q.order = append(q.order, agentID)
		q.reasons[agentID] = reason
	}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if already {
		return
	}

	desktopNotify("Agent waiting for input", reason)

	if q.bus != nil {
		q.bus.Publish(eventbus.AgentWaiting, map[string]string{"agentId": agentID, "reason": reason})
		q.bus.Publish(eventbus.WaitingQueueChanged, snapshot)
	}
}

// Ack removes agentID from the queue, typically called when the UI
// focuses an agent that was waiting. It is a no-op if agentID is absent.
func (q *Queue) Ack(agentID string) {
	q.mu.Lock()
	idx := -1
	for i, id := range q.order {
		if id == agentID {
			idx = i
			break
		}
	}
	if idx == -1 {
		q.mu.Unlock()
		return
	}
	q.order = append(q.order[:idx], q.order[idx+1:]...)
	delete(q.reasons, agentID)
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if q.bus != nil {
		q.bus.Publish(eventbus.WaitingQueueChanged, snapshot)
	}
}

// Snapshot returns the current queue order, oldest-waiting first.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []string {
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}
