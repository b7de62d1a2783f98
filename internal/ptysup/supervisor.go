// Package ptysup supervises one PTY-backed coding-assistant CLI process per
// terminal, adapted from the teacher's internal/agentctl/server/process
// (InteractiveRunner / pty_unix.go) down to the single-binary, single-session
// shape this system needs: one assistant CLI, resumable across restarts,
// scraped for a handful of textual tells rather than a full TUI state
// machine.
package ptysup

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/common/logger"
)

const (
	ptyCols = 80
	ptyRows = 30

	settleDelay      = 500 * time.Millisecond
	typeDelayPerRune = 5 * time.Millisecond
	pasteAckTimeout  = 2 * time.Second
	pasteSettleLong  = 100 * time.Millisecond
	pasteSettleShort = 50 * time.Millisecond
)

// terminal is one supervised child process and its PTY master.
type terminal struct {
	id      string
	agentID string
	cmd     *exec.Cmd
	ptmx    *os.File
	emitter *broadcastEmitter

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// Supervisor owns every live terminal. One Supervisor exists per
// bismarkd process; terminals are keyed by an opaque terminal id distinct
// from the owning agent's id so an agent can be relaunched into a fresh
// terminal without reusing a stale one.
type Supervisor struct {
	log *logger.Logger

	mu        sync.RWMutex
	terminals map[string]*terminal

	sessionStore SessionStore
	onOutput     OutputHandler
	onExit       ExitHandler
}

// SessionStore persists and retrieves the assistant CLI's resumable
// session id per agent, so a relaunch can pass --resume instead of
// starting a fresh conversation. Backed by store.Store in production.
type SessionStore interface {
	GetSessionID(agentID string) (string, bool)
	SetSessionID(agentID, sessionID string) error
	ClearSessionID(agentID string) error
}

// New creates a Supervisor. onOutput and onExit may be nil.
func New(sessions SessionStore, onOutput OutputHandler, onExit ExitHandler, log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{
		log:          log.WithFields(zap.String("component", "ptysup")),
		terminals:    make(map[string]*terminal),
		sessionStore: sessions,
		onOutput:     onOutput,
		onExit:       onExit,
	}
}

// Create spawns a new PTY-backed assistant CLI process and returns its
// terminal id. If opts.SessionID is empty and the session store has a
// cached session for opts.AgentID, it is resumed via --resume; otherwise
// a fresh session id is generated and passed via --session-id so future
// relaunches can resume it.
func (s *Supervisor) Create(opts CreateOptions) (string, error) {
	if opts.WorkingDir == "" {
		return "", apperrors.InvalidState("working directory is required")
	}
	if info, err := os.Stat(opts.WorkingDir); err != nil || !info.IsDir() {
		return "", apperrors.NotFound("working directory", opts.WorkingDir)
	}

	binary := opts.Binary
	if binary == "" {
		binary = "claude"
	}

	sessionID := opts.SessionID
	resuming := false
	if sessionID == "" && s.sessionStore != nil {
		if cached, ok := s.sessionStore.GetSessionID(opts.AgentID); ok && cached != "" {
			sessionID = cached
			resuming = true
		}
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	args := make([]string, 0, len(opts.ExtraFlags)+4+2*len(opts.AddDirs))
	if resuming {
		args = append(args, "--resume", sessionID)
	} else {
		args = append(args, "--session-id", sessionID)
	}
	for _, dir := range opts.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	args = append(args, opts.ExtraFlags...)

	cmd := exec.Command(binary, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(), "WORKSPACE_ID="+opts.AgentID)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: ptyCols, Rows: ptyRows})
	if err != nil {
		return "", apperrors.ExternalToolFailed(binary, err)
	}

	if !resuming && s.sessionStore != nil {
		if err := s.sessionStore.SetSessionID(opts.AgentID, sessionID); err != nil {
			s.log.Warn("failed to persist new session id", zap.String("agent_id", opts.AgentID), zap.Error(err))
		}
	}

	id := uuid.New().String()
	t := &terminal{
		id:        id,
		agentID:   opts.AgentID,
		cmd:       cmd,
		ptmx:      ptmx,
		emitter:   newBroadcastEmitter(),
		sessionID: sessionID,
	}

	s.mu.Lock()
	s.terminals[id] = t
	s.mu.Unlock()

	go s.pump(t)
	go s.wait(t)

	if opts.InitialPrompt != "" {
		go func() {
			time.Sleep(settleDelay)
			if err := s.PastePrompt(id, opts.InitialPrompt); err != nil {
				s.log.Warn("failed to deliver initial prompt", zap.String("terminal_id", id), zap.Error(err))
			}
		}()
	}

	return id, nil
}

func (s *Supervisor) pump(t *terminal) {
	buf := make([]byte, 8192)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			t.emitter.publish(chunk)
			if s.onOutput != nil {
				s.onOutput(t.id, chunk)
			}

			if MatchesCleared(chunk) {
				t.mu.Lock()
				t.sessionID = ""
				t.mu.Unlock()
				if s.sessionStore != nil {
					if cerr := s.sessionStore.ClearSessionID(t.agentID); cerr != nil {
						s.log.Warn("failed to clear cached session id", zap.String("agent_id", t.agentID), zap.Error(cerr))
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) wait(t *terminal) {
	err := t.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	if s.onExit != nil {
		s.onExit(t.id, exitCode)
	}
}

func (s *Supervisor) get(terminalID string) (*terminal, error) {
	s.mu.RLock()
	t, ok := s.terminals[terminalID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("terminal", terminalID)
	}
	return t, nil
}

// Write sends raw bytes to the terminal's stdin, as when relaying a
// keystroke from an interactive UI session.
func (s *Supervisor) Write(terminalID string, data []byte) error {
	t, err := s.get(terminalID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return apperrors.InvalidState(fmt.Sprintf("terminal %q has exited", terminalID))
	}
	_, err = t.ptmx.Write(data)
	return err
}

// Resize changes the PTY window size backing terminalID.
func (s *Supervisor) Resize(terminalID string, cols, rows uint16) error {
	t, err := s.get(terminalID)
	if err != nil {
		return err
	}
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close terminates the child process backing terminalID and releases its
// PTY master, then forgets the terminal; a terminal whose child already
// exited is just forgotten. Closing a terminal id that is no longer known
// returns NotFound.
func (s *Supervisor) Close(terminalID string) error {
	t, err := s.get(terminalID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	already := t.closed
	t.mu.Unlock()
	if already {
		s.forget(terminalID)
		return nil
	}

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.ptmx.Close()
	s.forget(terminalID)
	return nil
}

func (s *Supervisor) forget(terminalID string) {
	s.mu.Lock()
	delete(s.terminals, terminalID)
	s.mu.Unlock()
}

// FindByAgent returns the live terminal id bound to agentID, if any. Used
// by the core API to resolve a PTY-backed agent's terminal for close/stop
// requests that only carry the agent id.
func (s *Supervisor) FindByAgent(agentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, t := range s.terminals {
		if t.agentID == agentID {
			return id, true
		}
	}
	return "", false
}

// CloseAll terminates every supervised terminal, best-effort.
func (s *Supervisor) CloseAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.terminals))
	for id := range s.terminals {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.Close(id); err != nil {
			s.log.Warn("failed to close terminal during shutdown", zap.String("terminal_id", id), zap.Error(err))
		}
	}
}

// GetEmitter returns the local Emitter for terminalID, for callers (C10's
// plan poller) that need to screen-scrape output without subscribing to
// the UI-facing event bus.
func (s *Supervisor) GetEmitter(terminalID string) (Emitter, error) {
	t, err := s.get(terminalID)
	if err != nil {
		return nil, err
	}
	return t.emitter, nil
}

// TypeText writes text to the terminal one code point at a time with a
// small delay between each, matching how a human types and avoiding the
// bracketed-paste path entirely.
func (s *Supervisor) TypeText(terminalID string, text string) error {
	for _, r := range text {
		if err := s.Write(terminalID, []byte(string(r))); err != nil {
			return err
		}
		time.Sleep(typeDelayPerRune)
	}
	return nil
}

// PastePrompt delivers text as a single bracketed paste: the whole string
// is written at once, then the supervisor waits up to pasteAckTimeout for
// the CLI's paste acknowledgement before sending the carriage return that
// submits it. If no acknowledgement arrives the shorter settle delay is
// used instead, since some CLI builds omit the ack for short pastes.
func (s *Supervisor) PastePrompt(terminalID string, text string) error {
	if err := s.Write(terminalID, []byte(text)); err != nil {
		return err
	}

	acked := s.WaitForOutput(terminalID, MatchesPastedText, pasteAckTimeout)
	if acked {
		time.Sleep(pasteSettleLong)
	} else {
		time.Sleep(pasteSettleShort)
	}
	return s.Write(terminalID, []byte("\r"))
}

// WaitForOutput blocks until match reports true against some chunk of
// output from terminalID, or timeout elapses, returning whether it matched.
func (s *Supervisor) WaitForOutput(terminalID string, match func([]byte) bool, timeout time.Duration) bool {
	emitter, err := s.GetEmitter(terminalID)
	if err != nil {
		return false
	}

	found := make(chan struct{}, 1)
	cancel := emitter.Subscribe(func(chunk []byte) {
		if match(chunk) {
			select {
			case found <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	select {
	case <-found:
		return true
	case <-time.After(timeout):
		return false
	}
}
