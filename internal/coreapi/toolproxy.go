package coreapi

import (
	"github.com/gin-gonic/gin"
)

// startToolProxy starts C9 on demand, adopting an already-healthy instance
// per the probe-then-adopt rule (spec §9) instead of failing on a port
// already held by a prior process.
func (s *Server) startToolProxy(c *gin.Context) {
	if s.deps.ToolProxy == nil {
		ok(c, gin.H{"running": false})
		return
	}
	if err := s.deps.ToolProxy.Start(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	s.proxyMu.Lock()
	s.proxyRunning = true
	s.proxyMu.Unlock()
	ok(c, gin.H{"running": true})
}

func (s *Server) stopToolProxy(c *gin.Context) {
	if s.deps.ToolProxy == nil {
		ok(c, nil)
		return
	}
	if err := s.deps.ToolProxy.Shutdown(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	s.proxyMu.Lock()
	s.proxyRunning = false
	s.proxyMu.Unlock()
	ok(c, nil)
}

func (s *Server) isToolProxyRunning(c *gin.Context) {
	s.proxyMu.Lock()
	running := s.proxyRunning
	s.proxyMu.Unlock()
	ok(c, gin.H{"running": running})
}
