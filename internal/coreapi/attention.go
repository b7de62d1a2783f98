package coreapi

import (
	"github.com/gin-gonic/gin"
)

// getAttentionQueue returns the authoritative FIFO (internal/attention.Queue),
// not wsstate's UI mirror, since the queue is the system of record (spec §3
// "Attention queue").
func (s *Server) getAttentionQueue(c *gin.Context) {
	if s.deps.Attention == nil {
		ok(c, []string{})
		return
	}
	ok(c, s.deps.Attention.Snapshot())
}

// acknowledgeAttention is a no-op when agentId is not queued (spec §8
// round-trip property).
func (s *Server) acknowledgeAttention(c *gin.Context) {
	agentID := c.Param("agentId")
	if s.deps.Attention != nil {
		s.deps.Attention.Ack(agentID)
	}
	if err := s.deps.WSState.AttentionAck(agentID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
