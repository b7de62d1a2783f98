// Package gitwt manages per-task git worktrees (spec §4.7), grounded on
// the teacher's internal/worktree/manager.go down to the operations this
// system's plan executor actually needs: create, remove, prune, push, and
// rebase onto the latest base branch. Per-repository serialization uses a
// ref-counted mutex map exactly like the teacher's getRepoLock/
// releaseRepoLock pair, since concurrent `git worktree add` invocations
// against the same repository can corrupt its .git/worktrees metadata.
package gitwt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
	"github.com/bismarkhq/bismark/internal/common/logger"
)

const gitTimeout = 30 * time.Second

var unsafeBranchChars = regexp.MustCompile(`[^a-z0-9-]+`)

type repoLock struct {
	mu       sync.Mutex
	refCount int
}

// Manager owns git worktree lifecycle under one base directory.
type Manager struct {
	baseDir string
	log     *logger.Logger

	locksMu sync.Mutex
	locks   map[string]*repoLock
}

// New creates a Manager that places new worktrees under baseDir.
func New(baseDir string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		baseDir: baseDir,
		log:     log.WithFields(zap.String("component", "gitwt")),
		locks:   make(map[string]*repoLock),
	}
}

func (m *Manager) lockRepo(repoPath string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[repoPath]
	if !ok {
		l = &repoLock{}
		m.locks[repoPath] = l
	}
	l.refCount++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refCount--
		if l.refCount == 0 {
			delete(m.locks, repoPath)
		}
		m.locksMu.Unlock()
	}
}

// GenerateUniqueBranchName builds a branch name bismark/{planShort}/{taskSlug}-N,
// retrying with an incrementing suffix (then a random one) if that branch
// already exists in repoPath.
func (m *Manager) GenerateUniqueBranchName(ctx context.Context, repoPath, planID, taskTitle string) (string, error) {
	planShort := planID
	if len(planShort) > 8 {
		planShort = planShort[:8]
	}
	slug := slugify(taskTitle)
	if slug == "" {
		slug = "task"
	}

	for n := 1; n <= 20; n++ {
		candidate := fmt.Sprintf("bismark/%s/%s-%d", planShort, slug, n)
		exists, err := m.branchExists(ctx, repoPath, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return fmt.Sprintf("bismark/%s/%s-%d", planShort, slug, rand.Intn(1_000_000)), nil
}

func slugify(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	lower = unsafeBranchChars.ReplaceAllString(lower, "-")
	lower = strings.Trim(lower, "-")
	if len(lower) > 24 {
		lower = lower[:24]
	}
	return lower
}

func (m *Manager) branchExists(ctx context.Context, repoPath, branch string) (bool, error) {
	_, err := m.git(ctx, repoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateWorktree runs `git worktree add -b branch <path> baseRef` under
// repoPath's lock and returns the absolute worktree path.
func (m *Manager) CreateWorktree(ctx context.Context, repoPath, branch, baseRef, dirName string) (string, error) {
	unlock := m.lockRepo(repoPath)
	defer unlock()

	worktreePath := filepath.Join(m.baseDir, dirName)
	if _, err := m.git(ctx, repoPath, "worktree", "add", "-b", branch, worktreePath, baseRef); err != nil {
		return "", apperrors.ExternalToolFailed("git worktree add", err)
	}
	return worktreePath, nil
}

// RemoveWorktree runs `git worktree remove --force` and optionally deletes
// the branch, under repoPath's lock.
func (m *Manager) RemoveWorktree(ctx context.Context, repoPath, worktreePath, branch string, removeBranch bool) error {
	unlock := m.lockRepo(repoPath)
	defer unlock()

	if _, err := m.git(ctx, repoPath, "worktree", "remove", "--force", worktreePath); err != nil {
		m.log.Warn("git worktree remove failed, pruning instead", zap.String("path", worktreePath), zap.Error(err))
		_, _ = m.git(ctx, repoPath, "worktree", "prune")
	}
	if removeBranch && branch != "" {
		if _, err := m.git(ctx, repoPath, "branch", "-D", branch); err != nil {
			m.log.Warn("failed to delete branch after worktree removal", zap.String("branch", branch), zap.Error(err))
		}
	}
	return nil
}

// PruneWorktrees runs `git worktree prune` to clear stale administrative
// entries left by a worktree directory that was removed outside git.
func (m *Manager) PruneWorktrees(ctx context.Context, repoPath string) error {
	unlock := m.lockRepo(repoPath)
	defer unlock()
	_, err := m.git(ctx, repoPath, "worktree", "prune")
	return err
}

// PushBranch pushes branch from worktreePath to origin, creating the
// remote branch if it does not exist yet.
func (m *Manager) PushBranch(ctx context.Context, worktreePath, branch string) error {
	_, err := m.git(ctx, worktreePath, "push", "-u", "origin", branch)
	if err != nil {
		return apperrors.ExternalToolFailed("git push", err)
	}
	return nil
}

// PushToRemoteBranch pushes worktreePath's current HEAD onto remoteBranch
// on origin without forcing, so a non-fast-forward update is rejected;
// used to fold a task's work into a plan's shared feature branch.
func (m *Manager) PushToRemoteBranch(ctx context.Context, worktreePath, remoteBranch string) error {
	_, err := m.git(ctx, worktreePath, "push", "origin", "HEAD:"+remoteBranch)
	if err != nil {
		return apperrors.ExternalToolFailed("git push", err)
	}
	return nil
}

// FetchAndRebase fetches origin and rebases worktreePath's current branch
// onto baseBranch, surfacing a conflict as an apperrors.InvalidState so
// callers can route it to a human instead of retrying blindly.
func (m *Manager) FetchAndRebase(ctx context.Context, worktreePath, baseBranch string) error {
	if _, err := m.git(ctx, worktreePath, "fetch", "origin", baseBranch); err != nil {
		return apperrors.ExternalToolFailed("git fetch", err)
	}
	if _, err := m.git(ctx, worktreePath, "rebase", "origin/"+baseBranch); err != nil {
		_, _ = m.git(ctx, worktreePath, "rebase", "--abort")
		return apperrors.InvalidState(fmt.Sprintf("rebase onto origin/%s produced conflicts", baseBranch))
	}
	return nil
}

// GetCommitsBetween lists the one-line subjects of commits reachable from
// headRef but not baseRef, oldest first.
func (m *Manager) GetCommitsBetween(ctx context.Context, repoPath, baseRef, headRef string) ([]string, error) {
	out, err := m.git(ctx, repoPath, "log", "--reverse", "--pretty=format:%s", baseRef+".."+headRef)
	if err != nil {
		return nil, apperrors.ExternalToolFailed("git log", err)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// GetHeadCommit returns the full SHA of repoPath's current HEAD.
func (m *Manager) GetHeadCommit(ctx context.Context, repoPath string) (string, error) {
	out, err := m.git(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", apperrors.ExternalToolFailed("git rev-parse", err)
	}
	return strings.TrimSpace(out), nil
}

// DetectRepo reads rootPath's git metadata (default branch, origin URL)
// for the Repositories operation surface's detectRepo call.
func (m *Manager) DetectRepo(ctx context.Context, rootPath string) (name, defaultBranch, remoteURL string, err error) {
	if _, statErr := m.git(ctx, rootPath, "rev-parse", "--is-inside-work-tree"); statErr != nil {
		return "", "", "", apperrors.NotFound("git repository", rootPath)
	}

	name = filepath.Base(strings.TrimRight(rootPath, "/"))

	if out, derr := m.git(ctx, rootPath, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); derr == nil {
		defaultBranch = strings.TrimPrefix(strings.TrimSpace(out), "origin/")
	}
	if defaultBranch == "" {
		if out, derr := m.git(ctx, rootPath, "branch", "--show-current"); derr == nil {
			defaultBranch = strings.TrimSpace(out)
		}
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	if out, derr := m.git(ctx, rootPath, "remote", "get-url", "origin"); derr == nil {
		remoteURL = strings.TrimSpace(out)
	}
	return name, defaultBranch, remoteURL, nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}
