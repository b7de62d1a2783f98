package wsstate

import (
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/model"
)

// SetFocused marks agentID as the UI's focused workspace. If agentID is
// anywhere in the attention queue, focusing it acknowledges and removes it.
func (m *Manager) SetFocused(agentID string) error {
	v, err := m.call(func(s *state) (interface{}, error) {
		s.focused = agentID
		acked := false
		for i, id := range s.attention {
			if id == agentID {
				s.attention = append(s.attention[:i], s.attention[i+1:]...)
				acked = true
				break
			}
		}
		return acked, nil
	})
	if err != nil {
		return err
	}
	m.publish(eventbus.StateUpdate, map[string]string{"focusedAgent": agentID})
	if v.(bool) {
		m.publish(eventbus.WaitingQueueChanged, nil)
	}
	return nil
}

// SetPreferences replaces the stored Preferences wholesale.
func (m *Manager) SetPreferences(prefs model.Preferences) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		s.prefs = prefs
		return nil, nil
	})
	if err == nil {
		m.publish(eventbus.StateUpdate, map[string]interface{}{"preferences": prefs})
	}
	return err
}

// AttentionPush adds agentID to the UI-visible attention queue projection.
// The authoritative push/notify logic lives in attention.Queue; this
// mirrors its membership into wsstate so GetSnapshot reflects it without
// a second round trip.
func (m *Manager) AttentionPush(agentID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		for _, id := range s.attention {
			if id == agentID {
				return nil, nil
			}
		}
		s.attention = append(s.attention, agentID)
		return nil, nil
	})
	if err == nil {
		m.publish(eventbus.WaitingQueueChanged, nil)
	}
	return err
}

// AttentionAck removes agentID from the UI-visible attention queue
// projection, mirroring attention.Queue.Ack.
func (m *Manager) AttentionAck(agentID string) error {
	_, err := m.call(func(s *state) (interface{}, error) {
		for i, id := range s.attention {
			if id == agentID {
				s.attention = append(s.attention[:i], s.attention[i+1:]...)
				break
			}
		}
		return nil, nil
	})
	if err == nil {
		m.publish(eventbus.WaitingQueueChanged, nil)
	}
	return err
}
