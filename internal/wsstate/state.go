// Package wsstate owns the in-memory workspace layout — tabs, focus, and
// the attention queue's UI-visible projection — as a single actor
// goroutine, grounded on the teacher's orchestrator state machines
// (internal/orchestrator) that serialize every mutation through one
// command channel instead of a mutex, so invariants spanning multiple
// fields (an agent appears in exactly one tab, positions stay contiguous)
// never observe a half-applied update.
package wsstate

import (
	"context"

	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/model"
	"github.com/bismarkhq/bismark/internal/store"
)

// command is one mutation or read routed through the actor's run loop.
type command struct {
	fn   func(*state) (interface{}, error)
	resp chan result
}

type result struct {
	val interface{}
	err error
}

// state is the actor's private, single-goroutine-owned data. Never touch
// these fields outside run().
type state struct {
	prefs       model.Preferences
	tabs        []*model.Tab
	activeTabID string
	focused     string
	attention   []string
}

// Manager is the public, concurrency-safe handle onto the C4 actor.
type Manager struct {
	cmds  chan command
	store *store.Store
	bus   eventbus.Bus
	log   *logger.Logger
}

// New loads persisted state from st and starts the actor goroutine. ctx
// cancellation stops the actor; callers should not use the Manager after.
func New(ctx context.Context, st *store.Store, bus eventbus.Bus, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "wsstate"))

	saved, err := st.LoadState(ctx)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cmds:  make(chan command),
		store: st,
		bus:   bus,
		log:   log,
	}

	s := &state{
		prefs:       saved.Preferences,
		tabs:        saved.Tabs,
		activeTabID: saved.ActiveTabID,
		focused:     saved.FocusedAgent,
		attention:   saved.Attention,
	}
	if s.tabs == nil {
		s.tabs = []*model.Tab{}
	}

	go m.run(ctx, s)
	return m, nil
}

func (m *Manager) run(ctx context.Context, s *state) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.cmds:
			val, err := cmd.fn(s)
			if err == nil {
				if perr := m.persist(ctx, s); perr != nil {
					m.log.Warn("failed to persist workspace state", zap.Error(perr))
				}
			}
			cmd.resp <- result{val: val, err: err}
		}
	}
}

func (m *Manager) persist(ctx context.Context, s *state) error {
	return m.store.SaveState(ctx, store.AppState{
		Preferences:  s.prefs,
		Tabs:         s.tabs,
		ActiveTabID:  s.activeTabID,
		FocusedAgent: s.focused,
		Attention:    s.attention,
	})
}

// call submits fn to the actor and blocks for its result.
func (m *Manager) call(fn func(*state) (interface{}, error)) (interface{}, error) {
	resp := make(chan result, 1)
	m.cmds <- command{fn: fn, resp: resp}
	r := <-resp
	return r.val, r.err
}

func findTab(s *state, tabID string) (*model.Tab, int) {
	for i, t := range s.tabs {
		if t.ID == tabID {
			return t, i
		}
	}
	return nil, -1
}

func findAgentTab(s *state, agentID string) (*model.Tab, int) {
	for _, t := range s.tabs {
		if t.IndexOf(agentID) >= 0 {
			return t, t.IndexOf(agentID)
		}
	}
	return nil, -1
}

func (m *Manager) publish(name string, data interface{}) {
	if m.bus != nil {
		m.bus.Publish(name, data)
	}
}
