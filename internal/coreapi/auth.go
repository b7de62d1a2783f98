package coreapi

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) getToken(c *gin.Context) {
	token, err := s.deps.Store.GetToken(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"token": token})
}

type setTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) setToken(c *gin.Context) {
	var req setTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Store.SetToken(c.Request.Context(), req.Token); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) hasToken(c *gin.Context) {
	has, err := s.deps.Store.HasToken(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"hasToken": has})
}

func (s *Server) clearToken(c *gin.Context) {
	if err := s.deps.Store.ClearToken(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// runSetup persists the token handed to it by the caller's own interactive
// device/browser flow against the assistant CLI's provider; acquiring that
// token is out of scope here (spec §1 "OAuth token acquisition flows").
func (s *Server) runSetup(c *gin.Context) {
	var req setTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Token == "" {
		badRequest(c, "token is required")
		return
	}
	if err := s.deps.Store.SetToken(c.Request.Context(), req.Token); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"success": true})
}
