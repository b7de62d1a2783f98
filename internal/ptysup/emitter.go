package ptysup

import "sync"

// broadcastEmitter is the concrete Emitter backing each terminal: a small
// fan-out list of subscriber funcs, copied on write so Publish never holds
// the lock while calling into arbitrary subscriber code.
type broadcastEmitter struct {
	mu   sync.Mutex
	subs map[int]func(chunk []byte)
	next int
}

func newBroadcastEmitter() *broadcastEmitter {
	return &broadcastEmitter{subs: make(map[int]func(chunk []byte))}
}

func (e *broadcastEmitter) Subscribe(fn func(chunk []byte)) (cancel func()) {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *broadcastEmitter) publish(chunk []byte) {
	e.mu.Lock()
	fns := make([]func(chunk []byte), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(chunk)
	}
}
