package store

import "context"

// AgentSessionStore adapts Store's agent persistence to ptysup.SessionStore,
// so the PTY supervisor can cache and clear an assistant CLI's resumable
// session id on the owning Agent record without depending on ptysup itself.
type AgentSessionStore struct {
	store *Store
	ctx   context.Context
}

// NewAgentSessionStore returns a ptysup.SessionStore backed by store,
// using ctx for every read/write it performs.
func NewAgentSessionStore(ctx context.Context, store *Store) *AgentSessionStore {
	return &AgentSessionStore{store: store, ctx: ctx}
}

func (a *AgentSessionStore) GetSessionID(agentID string) (string, bool) {
	agent, err := a.store.GetAgentByID(a.ctx, agentID)
	if err != nil || agent == nil || agent.SessionID == "" {
		return "", false
	}
	return agent.SessionID, true
}

func (a *AgentSessionStore) SetSessionID(agentID, sessionID string) error {
	agent, err := a.store.GetAgentByID(a.ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return nil
	}
	agent.SessionID = sessionID
	return a.store.SaveAgent(a.ctx, agent)
}

func (a *AgentSessionStore) ClearSessionID(agentID string) error {
	agent, err := a.store.GetAgentByID(a.ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return nil
	}
	agent.SessionID = ""
	return a.store.SaveAgent(a.ctx, agent)
}
