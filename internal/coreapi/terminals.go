package coreapi

import (
	"github.com/gin-gonic/gin"

	"github.com/bismarkhq/bismark/internal/ptysup"
)

type createTerminalRequest struct {
	AgentID       string   `json:"agentId"`
	WorkingDir    string   `json:"workingDir"`
	InitialPrompt string   `json:"initialPrompt"`
	AddDirs       []string `json:"addDirs"`
}

// createTerminal spawns a fresh PTY-backed CLI session for an agent (spec
// §6.5 "createTerminal"). PTY spawn failures bubble directly to the
// caller per spec §7.
func (s *Server) createTerminal(c *gin.Context) {
	var req createTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.AgentID == "" || req.WorkingDir == "" {
		badRequest(c, "agentId and workingDir are required")
		return
	}

	terminalID, err := s.deps.Terminals.Create(ptysup.CreateOptions{
		AgentID:       req.AgentID,
		WorkingDir:    req.WorkingDir,
		InitialPrompt: req.InitialPrompt,
		AddDirs:       req.AddDirs,
	})
	if err != nil {
		fail(c, err)
		return
	}
	created(c, gin.H{"terminalId": terminalID})
}

type writeTerminalRequest struct {
	Data string `json:"data"`
}

func (s *Server) writeTerminal(c *gin.Context) {
	var req writeTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Terminals.Write(c.Param("terminalId"), []byte(req.Data)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type resizeTerminalRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (s *Server) resizeTerminal(c *gin.Context) {
	var req resizeTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Terminals.Resize(c.Param("terminalId"), req.Cols, req.Rows); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) closeTerminal(c *gin.Context) {
	if err := s.deps.Terminals.Close(c.Param("terminalId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
