package coreapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/model"
)

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.deps.Store.ListAgents(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, agents)
}

type saveAgentRequest struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	WorkingDir string     `json:"workingDir"`
	Purpose    string     `json:"purpose"`
	ColorTheme string     `json:"colorTheme"`
	Icon       string     `json:"icon"`
	Role       model.Role `json:"role"`
}

// saveAgent inserts or replaces an agent record (spec §6.5 "saveAgent").
func (s *Server) saveAgent(c *gin.Context) {
	var req saveAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.WorkingDir == "" {
		badRequest(c, "workingDir is required")
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()

	var agent *model.Agent
	if req.ID != "" {
		existing, err := s.deps.Store.GetAgentByID(ctx, req.ID)
		if err != nil {
			fail(c, err)
			return
		}
		if existing != nil {
			agent = existing
		}
	}
	if agent == nil {
		agent = &model.Agent{ID: req.ID, CreatedAt: now}
		if agent.ID == "" {
			agent.ID = uuid.NewString()
		}
	}
	agent.Name = req.Name
	agent.WorkingDir = req.WorkingDir
	agent.Purpose = req.Purpose
	agent.ColorTheme = req.ColorTheme
	agent.Icon = req.Icon
	agent.Role = req.Role
	agent.Touch(now)

	if err := s.deps.Store.SaveAgent(ctx, agent); err != nil {
		fail(c, err)
		return
	}
	ok(c, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	id := c.Param("agentId")
	ctx := c.Request.Context()

	agent, err := s.deps.Store.GetAgentByID(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if agent == nil {
		fail(c, apperrors.NotFound("agent", id))
		return
	}
	if err := s.deps.WSState.RemoveAgentFromTab(id); err != nil {
		fail(c, err)
		return
	}
	if err := s.deps.Store.DeleteAgent(ctx, id); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
