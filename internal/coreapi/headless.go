package coreapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/headless"
	"github.com/bismarkhq/bismark/internal/model"
)

func (s *Server) getHeadlessInfo(c *gin.Context) {
	info := s.deps.Headless.Get(c.Param("taskId"))
	if info == nil {
		fail(c, apperrors.NotFound("headless agent", c.Param("taskId")))
		return
	}
	ok(c, info)
}

func (s *Server) listHeadlessForPlan(c *gin.Context) {
	ok(c, s.deps.Headless.ListForPlan(c.Param("planId")))
}

func (s *Server) stopHeadless(c *gin.Context) {
	if err := s.deps.Headless.Stop(c.Request.Context(), c.Param("taskId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type destroyHeadlessRequest struct {
	IsStandalone bool `json:"isStandalone"`
}

// destroyHeadless stops and removes the task's container via
// Runtime.Destroy, which logs a failing sub-step and carries on. The
// worktree, its branch and any agent record are not removed.
func (s *Server) destroyHeadless(c *gin.Context) {
	var req destroyHeadlessRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.deps.Headless.Destroy(c.Request.Context(), c.Param("taskId"), req.IsStandalone); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type startStandaloneHeadlessRequest struct {
	RepositoryID string `json:"repositoryId"`
	Prompt       string `json:"prompt"`
	Image        string `json:"image"`
}

// startStandaloneHeadless allocates a worktree off the chosen repository's
// default branch and launches a container-hosted worker against it, with
// no owning plan (spec §3 "standalone-headless").
func (s *Server) startStandaloneHeadless(c *gin.Context) {
	var req startStandaloneHeadlessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.RepositoryID == "" || req.Prompt == "" {
		badRequest(c, "repositoryId and prompt are required")
		return
	}

	ctx := c.Request.Context()
	repo, err := s.deps.Store.GetRepositoryByID(ctx, req.RepositoryID)
	if err != nil {
		fail(c, err)
		return
	}
	if repo == nil {
		fail(c, apperrors.NotFound("repository", req.RepositoryID))
		return
	}

	taskID := uuid.NewString()
	branch, err := s.deps.Git.GenerateUniqueBranchName(ctx, repo.RootPath, "standalone", taskID)
	if err != nil {
		fail(c, err)
		return
	}
	worktreePath, err := s.deps.Git.CreateWorktree(ctx, repo.RootPath, branch, repo.DefaultBranch, "standalone-"+taskID[:8])
	if err != nil {
		fail(c, err)
		return
	}

	info, err := s.deps.Headless.Start(ctx, headless.StartOptions{
		TaskID:       taskID,
		Image:        req.Image,
		WorktreePath: worktreePath,
		Prompt:       req.Prompt,
	})
	if err != nil {
		fail(c, err)
		return
	}

	now := time.Now().UTC()
	agent := &model.Agent{
		ID:           taskID,
		Name:         "standalone-" + taskID[:8],
		WorkingDir:   worktreePath,
		Role:         model.Role{StandaloneHeadless: true},
		WorktreePath: worktreePath,
		TaskID:       taskID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Store.SaveAgent(ctx, agent); err != nil {
		fail(c, err)
		return
	}
	created(c, info)
}

func (s *Server) standaloneConfirmDone(c *gin.Context) {
	if err := s.deps.Headless.ConfirmDone(c.Request.Context(), c.Param("taskId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type standaloneFollowupRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) standaloneStartFollowup(c *gin.Context) {
	var req standaloneFollowupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	info, err := s.deps.Headless.StartFollowup(c.Request.Context(), c.Param("taskId"), req.Prompt)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, info)
}

func (s *Server) standaloneRestart(c *gin.Context) {
	info, err := s.deps.Headless.Restart(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, info)
}
