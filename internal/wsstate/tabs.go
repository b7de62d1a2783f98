package wsstate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/model"
)

// CreateTab adds a new, empty normal tab named name and returns it.
func (m *Manager) CreateTab(name string) (*model.Tab, error) {
	v, err := m.call(func(s *state) (interface{}, error) {
		t := &model.Tab{ID: uuid.New().String(), Name: name, AgentIDs: []string{}}
		s.tabs = append(s.tabs, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(eventbus.StateUpdate, v)
	return v.(*model.Tab), nil
}

// CreatePlanTab creates an empty, uncapped tab bound to planID (spec §4.10
// step 3: the plan tab must exist, persisted and emitted, before any
// worker is dispatched).
func (m *Manager) CreatePlanTab(planID, name string) (*model.Tab, error) {
	v, err := m.call(func(s *state) (interface{}, error) {
		t := &model.Tab{ID: uuid.New().String(), Name: name, AgentIDs: []string{}, IsPlanTab: true, PlanID: planID}
		s.tabs = append(s.tabs, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(eventbus.StateUpdate, v)
	return v.(*model.Tab), nil
}

// RenameTab renames tabID to name.
func (m *Manager) RenameTab(tabID, name string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		t, _ := findTab(s, tabID)
		if t == nil {
			return nil, apperrors.NotFound("tab", tabID)
		}
		t.Name = name
		return t, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]string{"tabId": tabID, "name": name})
	}
	return err
}

// DeleteTab removes tabID and every agent placement in it. The agents
// themselves are not torn down here; callers own that separately.
func (m *Manager) DeleteTab(tabID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		_, idx := findTab(s, tabID)
		if idx == -1 {
			return nil, apperrors.NotFound("tab", tabID)
		}
		s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)
		if s.activeTabID == tabID {
			s.activeTabID = ""
		}
		return nil, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]string{"deletedTabId": tabID})
	}
	return err
}

// SetActiveTab marks tabID as the UI's currently displayed tab.
func (m *Manager) SetActiveTab(tabID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		if tabID != "" {
			if t, _ := findTab(s, tabID); t == nil {
				return nil, apperrors.NotFound("tab", tabID)
			}
		}
		s.activeTabID = tabID
		return nil, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]string{"activeTabId": tabID})
	}
	return err
}

// GetOrCreateTabForAgent returns the tab currently holding agentID, or
// creates a fresh normal tab and places it there if it has none yet.
func (m *Manager) GetOrCreateTabForAgent(agentID, fallbackName string) (*model.Tab, error) {
	v, err := m.call(func(s *state) (interface{}, error) {
		if t, _ := findAgentTab(s, agentID); t != nil {
			return t, nil
		}
		t := &model.Tab{ID: uuid.New().String(), Name: fallbackName, AgentIDs: []string{agentID}}
		s.tabs = append(s.tabs, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(eventbus.StateUpdate, v)
	return v.(*model.Tab), nil
}

// AddAgentToTab appends agentID to tabID, rejecting a duplicate placement
// (an agent lives in exactly one tab, spec §3 invariant) and a normal
// tab already at its grid capacity.
func (m *Manager) AddAgentToTab(tabID, agentID string, gridCapacity int) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		if existing, _ := findAgentTab(s, agentID); existing != nil {
			return nil, apperrors.InvalidState(fmt.Sprintf("agent %q is already placed in tab %q", agentID, existing.ID))
		}
		t, _ := findTab(s, tabID)
		if t == nil {
			return nil, apperrors.NotFound("tab", tabID)
		}
		if !t.IsPlanTab && gridCapacity > 0 && len(t.AgentIDs) >= gridCapacity {
			return nil, apperrors.InvalidState(fmt.Sprintf("tab %q is at grid capacity %d", tabID, gridCapacity))
		}
		t.AgentIDs = append(t.AgentIDs, agentID)
		return t, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]string{"tabId": tabID, "addedAgentId": agentID})
	}
	return err
}

// RemoveAgentFromTab removes agentID from whichever tab holds it,
// compacting positions so the tab's AgentIDs stays contiguous.
func (m *Manager) RemoveAgentFromTab(agentID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		t, idx := findAgentTab(s, agentID)
		if t == nil {
			return nil, nil
		}
		t.AgentIDs = append(t.AgentIDs[:idx], t.AgentIDs[idx+1:]...)
		return t, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]string{"removedAgentId": agentID})
	}
	return err
}

// ReorderInTab moves agentID to position newIndex within its own tab.
func (m *Manager) ReorderInTab(agentID string, newIndex int) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		t, idx := findAgentTab(s, agentID)
		if t == nil {
			return nil, apperrors.NotFound("agent placement", agentID)
		}
		if newIndex < 0 || newIndex >= len(t.AgentIDs) {
			return nil, apperrors.InvalidState("reorder index out of range")
		}
		ids := t.AgentIDs
		ids = append(ids[:idx], ids[idx+1:]...)
		ids = append(ids[:newIndex], append([]string{agentID}, ids[newIndex:]...)...)
		t.AgentIDs = ids
		return t, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]interface{}{"reorderedAgentId": agentID, "newIndex": newIndex})
	}
	return err
}

// MoveAgentToTab relocates agentID from its current tab into toTabID,
// subject to the same capacity rule as AddAgentToTab.
func (m *Manager) MoveAgentToTab(agentID, toTabID string, gridCapacity int) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		from, idx := findAgentTab(s, agentID)
		to, _ := findTab(s, toTabID)
		if to == nil {
			return nil, apperrors.NotFound("tab", toTabID)
		}
		if !to.IsPlanTab && gridCapacity > 0 && len(to.AgentIDs) >= gridCapacity {
			return nil, apperrors.InvalidState(fmt.Sprintf("tab %q is at grid capacity %d", toTabID, gridCapacity))
		}
		if from != nil {
			from.AgentIDs = append(from.AgentIDs[:idx], from.AgentIDs[idx+1:]...)
		}
		to.AgentIDs = append(to.AgentIDs, agentID)
		return to, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]string{"agentId": agentID, "movedToTabId": toTabID})
	}
	return err
}

// Snapshot is a read-only copy of the full workspace layout.
type Snapshot struct {
	Preferences  model.Preferences
	Tabs         []*model.Tab
	ActiveTabID  string
	FocusedAgent string
	Attention    []string
}

// GetSnapshot returns the current layout for the UI's initial render.
func (m *Manager) GetSnapshot() (Snapshot, error) {
	v, err := m.call(func(s *state) (interface{}, error) {
		tabsCopy := make([]*model.Tab, len(s.tabs))
		copy(tabsCopy, s.tabs)
		attnCopy := make([]string, len(s.attention))
		copy(attnCopy, s.attention)
		return Snapshot{
			Preferences:  s.prefs,
			Tabs:         tabsCopy,
			ActiveTabID:  s.activeTabID,
			FocusedAgent: s.focused,
			Attention:    attnCopy,
		}, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}
