// Package eventbus implements C11: the one-way notification stream from the
// core to the UI (spec §4.11) plus the ordering guarantees of spec §5 —
// publish is synchronous per subject so a caller that publishes
// terminal-created before terminal-data, or plan-update before
// terminal-created, is guaranteed its subscribers observe that order.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/logger"
)

// Event is one notification on the bus. Name is one of the contractual
// names enumerated in spec §4.11 (terminal-data, plan-update, ...).
type Event struct {
	Name      string      `json:"name"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Handler receives events published to a subject it subscribed to.
type Handler func(Event)

// Subscription allows a subscriber to stop receiving events.
type Subscription interface {
	Unsubscribe()
}

// Bus is the minimal publish/subscribe surface C2-C10 use to notify C11
// consumers (websocket hub, optional NATS fan-out, tests).
type Bus interface {
	Publish(name string, data interface{})
	Subscribe(name string, h Handler) Subscription
	// SubscribeAll receives every event regardless of name, used by the
	// websocket hub to forward the full notification stream to clients.
	SubscribeAll(h Handler) Subscription
	Close()
}

type subscriber struct {
	id      uint64
	name    string // empty means "all"
	handler Handler
	bus     *memoryBus
}

func (s *subscriber) Unsubscribe() {
	s.bus.remove(s)
}

// memoryBus is the always-on in-process implementation (spec §5 "one
// primary event loop"; publish runs handlers synchronously and in
// registration order so per-subject ordering guarantees hold).
type memoryBus struct {
	mu       sync.RWMutex
	byName   map[string][]*subscriber
	wildcard []*subscriber
	nextID   uint64
	log      *logger.Logger
	closed   bool
}

// NewMemory creates the in-process event bus.
func NewMemory(log *logger.Logger) Bus {
	if log == nil {
		log = logger.Default()
	}
	return &memoryBus{
		byName: make(map[string][]*subscriber),
		log:    log.WithFields(zap.String("component", "eventbus")),
	}
}

func (b *memoryBus) Publish(name string, data interface{}) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	named := append([]*subscriber(nil), b.byName[name]...)
	wild := append([]*subscriber(nil), b.wildcard...)
	b.mu.RUnlock()

	ev := Event{Name: name, Timestamp: time.Now().UTC(), Data: data}
	for _, s := range named {
		s.handler(ev)
	}
	for _, s := range wild {
		s.handler(ev)
	}
}

func (b *memoryBus) Subscribe(name string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscriber{id: b.nextID, name: name, handler: h, bus: b}
	b.byName[name] = append(b.byName[name], s)
	return s
}

func (b *memoryBus) SubscribeAll(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscriber{id: b.nextID, handler: h, bus: b}
	b.wildcard = append(b.wildcard, s)
	return s
}

func (b *memoryBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.name == "" {
		b.wildcard = removeSub(b.wildcard, s)
		return
	}
	b.byName[s.name] = removeSub(b.byName[s.name], s)
}

func removeSub(list []*subscriber, target *subscriber) []*subscriber {
	out := list[:0]
	for _, s := range list {
		if s.id != target.id {
			out = append(out, s)
		}
	}
	return out
}

func (b *memoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.byName = map[string][]*subscriber{}
	b.wildcard = nil
}
