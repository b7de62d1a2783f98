package coreapi

import (
	"github.com/gin-gonic/gin"

	"github.com/bismarkhq/bismark/internal/model"
)

func (s *Server) getPreferences(c *gin.Context) {
	snap, err := s.deps.WSState.GetSnapshot()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, snap.Preferences)
}

// setPreferences patch is a partial update (spec §4.4 "setPreferences(partial)");
// only fields present in the request body override the current value.
type setPreferencesRequest struct {
	AttentionMode *model.AttentionMode `json:"attentionMode"`
	OperatingMode *model.OperatingMode `json:"operatingMode"`
	AgentModel    *model.AgentModel    `json:"agentModel"`
	GridSize      *model.GridSize      `json:"gridSize"`
	TutorialSeen  *bool                `json:"tutorialSeen"`
}

func (s *Server) setPreferences(c *gin.Context) {
	var req setPreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	snap, err := s.deps.WSState.GetSnapshot()
	if err != nil {
		fail(c, err)
		return
	}
	prefs := snap.Preferences
	if req.AttentionMode != nil {
		prefs.AttentionMode = *req.AttentionMode
	}
	if req.OperatingMode != nil {
		prefs.OperatingMode = *req.OperatingMode
	}
	if req.AgentModel != nil {
		prefs.AgentModel = *req.AgentModel
	}
	if req.GridSize != nil {
		prefs.GridSize = *req.GridSize
	}
	if req.TutorialSeen != nil {
		prefs.TutorialSeen = *req.TutorialSeen
	}

	if err := s.deps.WSState.SetPreferences(prefs); err != nil {
		fail(c, err)
		return
	}
	ok(c, prefs)
}
