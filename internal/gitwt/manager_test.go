package gitwt

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// initTestRepo creates a git repository with one commit on "main" and
// returns its path.
func initTestRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")
	return dir
}

func TestGenerateUniqueBranchNameAvoidsCollisions(t *testing.T) {
	repo := initTestRepo(t)
	m := New(t.TempDir(), nil)
	ctx := context.Background()

	first, err := m.GenerateUniqueBranchName(ctx, repo, "plan-12345678", "Fix login bug")
	require.NoError(t, err)

	cmd := exec.Command("git", "branch", first)
	cmd.Dir = repo
	require.NoError(t, cmd.Run())

	second, err := m.GenerateUniqueBranchName(ctx, repo, "plan-12345678", "Fix login bug")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestCreateAndRemoveWorktree(t *testing.T) {
	repo := initTestRepo(t)
	baseDir := t.TempDir()
	m := New(baseDir, nil)
	ctx := context.Background()

	branch, err := m.GenerateUniqueBranchName(ctx, repo, "plan-1", "add feature")
	require.NoError(t, err)

	path, err := m.CreateWorktree(ctx, repo, branch, "main", "wt-1")
	require.NoError(t, err)
	require.DirExists(t, path)

	head, err := m.GetHeadCommit(ctx, path)
	require.NoError(t, err)
	require.NotEmpty(t, head)

	require.NoError(t, m.RemoveWorktree(ctx, repo, path, branch, true))
	require.NoDirExists(t, path)
}

func TestGetCommitsBetween(t *testing.T) {
	repo := initTestRepo(t)
	baseDir := t.TempDir()
	m := New(baseDir, nil)
	ctx := context.Background()

	branch, err := m.GenerateUniqueBranchName(ctx, repo, "plan-1", "add feature")
	require.NoError(t, err)
	path, err := m.CreateWorktree(ctx, repo, branch, "main", "wt-commits")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(path, "feature.txt"), []byte("x"), 0o644))
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "add feature file"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = path
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		require.NoError(t, cmd.Run())
	}

	commits, err := m.GetCommitsBetween(ctx, repo, "main", branch)
	require.NoError(t, err)
	require.Equal(t, []string{"add feature file"}, commits)
}
