package coreapi

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gin-gonic/gin"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/model"
)

// repositoryID derives the stable id model.Repository documents (a hash of
// the root path, so the same checkout always resolves to the same record
// across restarts) rather than a random uuid.
func repositoryID(rootPath string) string {
	sum := sha256.Sum256([]byte(rootPath))
	return hex.EncodeToString(sum[:])[:16]
}

type detectRepoRequest struct {
	RootPath string `json:"rootPath"`
}

// detectRepo reads a local checkout's git metadata and upserts a
// Repository record for it (spec §6.5 "detectRepo").
func (s *Server) detectRepo(c *gin.Context) {
	var req detectRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.RootPath == "" {
		badRequest(c, "rootPath is required")
		return
	}

	ctx := c.Request.Context()
	name, defaultBranch, remoteURL, err := s.deps.Git.DetectRepo(ctx, req.RootPath)
	if err != nil {
		fail(c, err)
		return
	}

	id := repositoryID(req.RootPath)
	repo := &model.Repository{
		ID:            id,
		RootPath:      req.RootPath,
		Name:          name,
		DefaultBranch: defaultBranch,
		RemoteURL:     remoteURL,
	}
	if existing, _ := s.deps.Store.GetRepositoryByID(ctx, id); existing != nil {
		repo.Purpose = existing.Purpose
		repo.ProtectedBranches = existing.ProtectedBranches
	}
	if err := s.deps.Store.SaveRepository(ctx, repo); err != nil {
		fail(c, err)
		return
	}
	created(c, repo)
}

func (s *Server) listRepos(c *gin.Context) {
	repos, err := s.deps.Store.ListRepositories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, repos)
}

type updateRepoRequest struct {
	Purpose           *string  `json:"purpose"`
	ProtectedBranches []string `json:"protectedBranches"`
}

func (s *Server) updateRepo(c *gin.Context) {
	var req updateRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	id := c.Param("repoId")
	repo, err := s.deps.Store.GetRepositoryByID(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if repo == nil {
		fail(c, apperrors.NotFound("repository", id))
		return
	}
	if req.Purpose != nil {
		repo.Purpose = *req.Purpose
	}
	if req.ProtectedBranches != nil {
		repo.ProtectedBranches = req.ProtectedBranches
	}
	if err := s.deps.Store.SaveRepository(ctx, repo); err != nil {
		fail(c, err)
		return
	}
	ok(c, repo)
}
