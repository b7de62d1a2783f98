package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
)

// writeFakeBinary drops a shell script named "bismark-tasks" on disk that
// prints fixed stdout/stderr and exits with the given code, then returns
// a Client pointed at it.
func writeFakeBinary(t *testing.T, stdout, stderr string, exitCode int) *Client {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell binary harness is unix-only")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bismark-tasks")
	script := "#!/bin/sh\n"
	if stdout != "" {
		script += "cat <<'EOF'\n" + stdout + "\nEOF\n"
	}
	if stderr != "" {
		script += "cat <<'EOF' 1>&2\n" + stderr + "\nEOF\n"
	}
	script += "exit " + strconv.Itoa(exitCode) + "\n"

	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return NewClient(path)
}

func TestClientCreateParsesID(t *testing.T) {
	c := writeFakeBinary(t, `{"id":"t1","title":"do thing","status":"open","labels":["bismark-ready"],"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`, "", 0)

	id, err := c.Create(context.Background(), "p1", CreateOptions{Title: "do thing", Labels: []string{"bismark-ready"}})
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
}

func TestClientRunFailureMapsToExternalToolFailed(t *testing.T) {
	c := writeFakeBinary(t, "", "boom", 1)

	_, err := c.List(context.Background(), "p1", ListOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeExternalToolFailed))
}

func TestClientGetNotFoundReturnsNilNil(t *testing.T) {
	c := writeFakeBinary(t, "", "task not found", 1)

	task, err := c.Get(context.Background(), "p1", "missing")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestClientListParsesLabels(t *testing.T) {
	c := writeFakeBinary(t, `[{"id":"t1","title":"a","status":"open","labels":["bismark-ready","repo:widgets","worktree:fix-login"]}]`, "", 0)

	tasks, err := c.List(context.Background(), "p1", ListOptions{Status: StatusOpen, Labels: []string{LabelReady}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].HasLabel(LabelReady))

	repo, ok := tasks[0].RepoLabel()
	assert.True(t, ok)
	assert.Equal(t, "widgets", repo)

	wt, ok := tasks[0].WorktreeLabel()
	assert.True(t, ok)
	assert.Equal(t, "fix-login", wt)
}

func TestAvailableFalseForMissingBinary(t *testing.T) {
	c := NewClient("/nonexistent/path/bismark-tasks-xyz")
	assert.False(t, c.Available())
}

