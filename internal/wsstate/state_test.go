package wsstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/store"
)

func newTestManager(t *testing.T) (*Manager, context.CancelFunc) {
	t.Helper()
	st := store.New(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	bus := eventbus.NewMemory(nil)
	m, err := New(ctx, st, bus, nil)
	require.NoError(t, err)
	return m, cancel
}

func TestCreateAndAddAgentToTab(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	tab, err := m.CreateTab("workspace")
	require.NoError(t, err)

	require.NoError(t, m.AddAgentToTab(tab.ID, "agent-1", 4))

	snap, err := m.GetSnapshot()
	require.NoError(t, err)
	require.Len(t, snap.Tabs, 1)
	assert.Equal(t, []string{"agent-1"}, snap.Tabs[0].AgentIDs)
}

func TestAddAgentToTabRejectsDuplicatePlacement(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	tabA, err := m.CreateTab("a")
	require.NoError(t, err)
	tabB, err := m.CreateTab("b")
	require.NoError(t, err)

	require.NoError(t, m.AddAgentToTab(tabA.ID, "agent-1", 4))
	err = m.AddAgentToTab(tabB.ID, "agent-1", 4)
	assert.Error(t, err)
}

func TestAddAgentToTabEnforcesGridCapacity(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	tab, err := m.CreateTab("full")
	require.NoError(t, err)

	require.NoError(t, m.AddAgentToTab(tab.ID, "agent-1", 1))
	err = m.AddAgentToTab(tab.ID, "agent-2", 1)
	assert.Error(t, err, "a normal tab at grid capacity must reject another agent")
}

func TestMoveAgentToTab(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	from, err := m.CreateTab("from")
	require.NoError(t, err)
	to, err := m.CreateTab("to")
	require.NoError(t, err)

	require.NoError(t, m.AddAgentToTab(from.ID, "agent-1", 4))
	require.NoError(t, m.MoveAgentToTab("agent-1", to.ID, 4))

	snap, err := m.GetSnapshot()
	require.NoError(t, err)
	for _, tb := range snap.Tabs {
		if tb.ID == from.ID {
			assert.Empty(t, tb.AgentIDs)
		}
		if tb.ID == to.ID {
			assert.Equal(t, []string{"agent-1"}, tb.AgentIDs)
		}
	}
}

func TestSetFocusedAcksAttentionQueueHead(t *testing.T) {
	m, cancel := newTestManager(t)
	defer cancel()

	require.NoError(t, m.AttentionPush("agent-1"))
	require.NoError(t, m.AttentionPush("agent-2"))

	require.NoError(t, m.SetFocused("agent-1"))

	snap, err := m.GetSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "agent-1", snap.FocusedAgent)
	assert.Equal(t, []string{"agent-2"}, snap.Attention)
}

func TestStatePersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	st := store.New(dir, nil)
	bus := eventbus.NewMemory(nil)

	m1, err := New(ctx, st, bus, nil)
	require.NoError(t, err)
	_, err = m1.CreateTab("persisted")
	require.NoError(t, err)

	cancel()
	time.Sleep(10 * time.Millisecond)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	m2, err := New(ctx2, st, bus, nil)
	require.NoError(t, err)

	snap, err := m2.GetSnapshot()
	require.NoError(t, err)
	require.Len(t, snap.Tabs, 1)
	assert.Equal(t, "persisted", snap.Tabs[0].Name)
}
