package coreapi

import (
	"github.com/gin-gonic/gin"
)

type createPlanRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) createPlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Title == "" {
		badRequest(c, "title is required")
		return
	}
	p, err := s.deps.Plan.CreatePlan(c.Request.Context(), req.Title, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, p)
}

func (s *Server) listPlans(c *gin.Context) {
	plans, err := s.deps.Plan.ListPlans(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, plans)
}

type referenceAgentRequest struct {
	ReferenceAgentID string `json:"referenceAgentId"`
}

func (s *Server) executePlan(c *gin.Context) {
	var req referenceAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Plan.ExecutePlan(c.Request.Context(), c.Param("planId"), req.ReferenceAgentID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) startDiscussion(c *gin.Context) {
	var req referenceAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Plan.StartDiscussion(c.Request.Context(), c.Param("planId"), req.ReferenceAgentID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) cancelDiscussion(c *gin.Context) {
	if err := s.deps.Plan.CancelDiscussion(c.Request.Context(), c.Param("planId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) cancelPlan(c *gin.Context) {
	if err := s.deps.Plan.CancelPlan(c.Request.Context(), c.Param("planId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) restartPlan(c *gin.Context) {
	if err := s.deps.Plan.RestartPlan(c.Request.Context(), c.Param("planId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) completePlan(c *gin.Context) {
	if err := s.deps.Plan.CompletePlan(c.Request.Context(), c.Param("planId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) deletePlan(c *gin.Context) {
	if err := s.deps.Plan.DeletePlan(c.Request.Context(), c.Param("planId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type deletePlansRequest struct {
	PlanIDs []string `json:"planIds"`
}

// deletePlans is the plural deletePlan(s) operation (spec §6.5), bound to
// DELETE /api/v1/plans with the id list in the body since DELETE requests
// carrying a body are the teacher's own convention for bulk deletes
// (internal/task/api bulk-close routes).
func (s *Server) deletePlans(c *gin.Context) {
	var req deletePlansRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Plan.DeletePlans(c.Request.Context(), req.PlanIDs); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) clonePlan(c *gin.Context) {
	p, err := s.deps.Plan.ClonePlan(c.Request.Context(), c.Param("planId"))
	if err != nil {
		fail(c, err)
		return
	}
	created(c, p)
}

func (s *Server) getTaskAssignments(c *gin.Context) {
	assignments, err := s.deps.Plan.GetTaskAssignments(c.Request.Context(), c.Param("planId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, assignments)
}

func (s *Server) getPlanActivities(c *gin.Context) {
	activities, err := s.deps.Plan.GetPlanActivities(c.Request.Context(), c.Param("planId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, activities)
}
