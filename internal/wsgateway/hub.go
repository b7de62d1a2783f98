// Package wsgateway pushes the C11 notification stream out to UI clients
// over a websocket, adapted from the teacher's broadcast hub
// (internal/orchestrator/streaming/hub.go) and simplified: every
// connected client receives every event instead of subscribing per task,
// because spec §4.11's notifications are already scoped (terminal id,
// plan id, agent id) in their payloads.
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected UI websocket.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger
}

// Hub fans every eventbus.Event out to all connected UI clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	log        *logger.Logger
}

// NewHub creates a Hub that is not yet subscribed to any bus; call Attach.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        log.WithFields(zap.String("component", "wsgateway")),
	}
}

// Attach subscribes the hub to every event on bus for the lifetime of ctx.
func (h *Hub) Attach(ctx context.Context, bus eventbus.Bus) {
	sub := bus.SubscribeAll(func(ev eventbus.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Warn("failed to marshal event for websocket fan-out", zap.Error(err))
			return
		}
		h.broadcast(data)
	})
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
}

// Run drives the hub's registration loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping slow websocket client", zap.String("client_id", c.id))
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client
// to receive the full notification stream until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{id: r.RemoteAddr, conn: conn, send: make(chan []byte, 256), log: h.log}
	h.register <- c

	go c.writePump()
	c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound frames — this is a push-only channel — and
// exists only to detect client disconnects and deregister.
func (c *client) readPump(h *Hub) {
	defer func() { h.unregister <- c }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
