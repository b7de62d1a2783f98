package coreapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// getState returns the UI's initial-render layout (spec §6.5 "getState").
func (s *Server) getState(c *gin.Context) {
	snap, err := s.deps.WSState.GetSnapshot()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, snap)
}

type setFocusedRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) setFocused(c *gin.Context) {
	var req setFocusedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.WSState.SetFocused(req.AgentID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type stopAgentRequest struct {
	AgentID string `json:"agentId"`
}

// stopAgent tears an interactive agent down entirely: its PTY, its tab
// placement, its attention-queue membership and its store record. Headless
// agents are stopped through the Headless surface instead.
func (s *Server) stopAgent(c *gin.Context) {
	var req stopAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	agent, err := s.deps.Store.GetAgentByID(ctx, req.AgentID)
	if err != nil {
		fail(c, err)
		return
	}
	if agent == nil {
		ok(c, nil)
		return
	}

	if terminalID, found := s.deps.Terminals.FindByAgent(agent.ID); found {
		if err := s.deps.Terminals.Close(terminalID); err != nil {
			s.log.Warn("failed to close terminal while stopping agent", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}
	if err := s.deps.WSState.RemoveAgentFromTab(agent.ID); err != nil {
		s.log.Warn("failed to remove agent from tab while stopping", zap.String("agent_id", agent.ID), zap.Error(err))
	}
	if s.deps.Attention != nil {
		s.deps.Attention.Ack(agent.ID)
	}
	if err := s.deps.Store.DeleteAgent(ctx, agent.ID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
