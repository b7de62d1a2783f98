package coreapi

import (
	"github.com/gin-gonic/gin"
)

// gridCapacity reads the current grid-size preference, used to enforce
// AddAgentToTab/MoveAgentToTab's capacity rule the same way the websocket
// gateway would for an interactive drag-drop.
func (s *Server) gridCapacity() int {
	snap, err := s.deps.WSState.GetSnapshot()
	if err != nil {
		return 0
	}
	return snap.Preferences.GridSize.Capacity()
}

type createTabRequest struct {
	Name   string `json:"name"`
	PlanID string `json:"planId"`
}

func (s *Server) createTab(c *gin.Context) {
	var req createTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.PlanID != "" {
		t, err := s.deps.WSState.CreatePlanTab(req.PlanID, req.Name)
		if err != nil {
			fail(c, err)
			return
		}
		created(c, t)
		return
	}
	t, err := s.deps.WSState.CreateTab(req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, t)
}

type renameTabRequest struct {
	Name string `json:"name"`
}

func (s *Server) renameTab(c *gin.Context) {
	var req renameTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.WSState.RenameTab(c.Param("tabId"), req.Name); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// deleteTab removes a tab and reports the agent ids it held (spec §6.5
// "deleteTab(tabId) → {success, agentIds[]}"), read before the delete call
// mutates state.
func (s *Server) deleteTab(c *gin.Context) {
	tabID := c.Param("tabId")
	snap, err := s.deps.WSState.GetSnapshot()
	if err != nil {
		fail(c, err)
		return
	}
	var agentIDs []string
	for _, t := range snap.Tabs {
		if t.ID == tabID {
			agentIDs = append(agentIDs, t.AgentIDs...)
			break
		}
	}
	if err := s.deps.WSState.DeleteTab(tabID); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"success": true, "agentIds": agentIDs})
}

func (s *Server) setActiveTab(c *gin.Context) {
	if err := s.deps.WSState.SetActiveTab(c.Param("tabId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type reorderInTabRequest struct {
	AgentID  string `json:"agentId"`
	NewIndex int    `json:"newIndex"`
}

func (s *Server) reorderInTab(c *gin.Context) {
	var req reorderInTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.WSState.ReorderInTab(req.AgentID, req.NewIndex); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type moveAgentToTabRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) moveAgentToTab(c *gin.Context) {
	var req moveAgentToTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.WSState.MoveAgentToTab(req.AgentID, c.Param("tabId"), s.gridCapacity()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
