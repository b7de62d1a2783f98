// Package attention runs one Unix domain socket listener per agent so an
// out-of-band assistant hook can signal that the agent is waiting for
// input without the orchestrator having to screen-scrape for it. The
// listener lifecycle (start goroutine, stop channel, done channel) follows
// the teacher's subprocess managers (internal/agentctl/server/process/
// vscode.go): asynchronous start, idempotent stop, status guarded by a
// mutex.
package attention

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/logger"
)

// Event is the newline-delimited JSON message an assistant hook writes to
// an agent's attention socket (spec §4.3).
type Event struct {
	Event       string `json:"event"`
	Reason      string `json:"reason,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// Handler reacts to an attention Event from a specific agent.
type Handler func(agentID string, ev Event)

// Server owns one Unix socket listener per agent under a shared runtime
// directory, conventionally /tmp/bm/{instance}/{agent}.sock.
type Server struct {
	mu        sync.Mutex
	baseDir   string
	listeners map[string]net.Listener
	log       *logger.Logger
	onEvent   Handler
}

// New creates a Server rooted at baseDir (typically
// filepath.Join(os.TempDir(), "bm", instanceID)). baseDir is created lazily
// on the first Listen call.
func New(baseDir string, onEvent Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		baseDir:   baseDir,
		listeners: make(map[string]net.Listener),
		log:       log.WithFields(zap.String("component", "attention")),
		onEvent:   onEvent,
	}
}

// SocketPath returns the path an agent's socket lives (or would live) at.
func (s *Server) SocketPath(agentID string) string {
	return filepath.Join(s.baseDir, shortID(agentID)+".sock")
}

// Listen opens agentID's socket and begins accepting connections in the
// background until ctx is cancelled or Close(agentID) is called. It is a
// no-op if the socket is already open.
func (s *Server) Listen(ctx context.Context, agentID string) error {
	s.mu.Lock()
	if _, ok := s.listeners[agentID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create attention socket dir: %w", err)
	}

	path := s.SocketPath(agentID)
	_ = os.Remove(path) // clear a stale socket from an unclean shutdown

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on attention socket %s: %w", path, err)
	}

	s.mu.Lock()
	s.listeners[agentID] = ln
	s.mu.Unlock()

	go s.accept(ctx, agentID, ln)
	go func() {
		<-ctx.Done()
		s.Close(agentID)
	}()

	return nil
}

func (s *Server) accept(ctx context.Context, agentID string, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(agentID, conn)
	}
}

// handleConn reads newline-delimited JSON events from conn until it
// closes, tolerating a final line with no trailing newline.
func (s *Server) handleConn(agentID string, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			s.log.Warn("discarding malformed attention event", zap.String("agent_id", agentID), zap.Error(err))
			continue
		}
		if s.onEvent != nil {
			s.onEvent(agentID, ev)
		}
	}
}

// Close stops listening for agentID and removes its socket file. It is
// idempotent.
func (s *Server) Close(agentID string) {
	s.mu.Lock()
	ln, ok := s.listeners[agentID]
	if ok {
		delete(s.listeners, agentID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	_ = ln.Close()
	_ = os.Remove(s.SocketPath(agentID))
}

// CloseAll stops every listener, best-effort, typically on shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Close(id)
	}
}

// shortID truncates an agent id to the 8-character prefix spec §4.3 uses
// for socket filenames, to keep the unix socket path under the platform's
// ~104 byte length limit.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
