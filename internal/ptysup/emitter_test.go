package ptysup

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastEmitterFanOut(t *testing.T) {
	e := newBroadcastEmitter()

	var mu sync.Mutex
	var gotA, gotB []byte

	cancelA := e.Subscribe(func(chunk []byte) {
		mu.Lock()
		gotA = append(gotA, chunk...)
		mu.Unlock()
	})
	_ = e.Subscribe(func(chunk []byte) {
		mu.Lock()
		gotB = append(gotB, chunk...)
		mu.Unlock()
	})

	e.publish([]byte("hello"))

	mu.Lock()
	assert.Equal(t, "hello", string(gotA))
	assert.Equal(t, "hello", string(gotB))
	mu.Unlock()

	cancelA()
	e.publish([]byte(" world"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", string(gotA), "unsubscribed listener must not receive further chunks")
	assert.Equal(t, "hello world", string(gotB))
}
