// Package taskstore wraps the external task-store CLI (spec §4.6), the
// same way the teacher's internal/github/gh_client.go wraps the gh CLI:
// shell out with exec.CommandContext, capture stdout/stderr separately,
// and parse --json output into typed structs. The plan manager (C10)
// drives task state entirely through labels: a task becomes eligible for
// dispatch once the orchestrator attaches `bismark-ready`, `repo:<name>`
// and `worktree:<slug>` labels, and the dispatcher relabels it
// `bismark-sent` once a worker is launched.
package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bismarkhq/bismark/internal/common/apperrors"
)

// Task status values (spec §4.6: "status ∈ {open, closed}").
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Label conventions the orchestrator and plan dispatcher agree on (spec
// §4.10 "processReadyTask").
const (
	LabelReady      = "bismark-ready"
	LabelSent       = "bismark-sent"
	labelRepoPrefix = "repo:"
	labelWTPrefix   = "worktree:"
)

// Task is one unit of work tracked by the external task store (spec §4.6).
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      string    `json:"type,omitempty"`
	ParentID  string    `json:"parent,omitempty"`
	Status    string    `json:"status"`
	Assignee  string    `json:"assignee,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasLabel reports whether the task carries label verbatim.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// LabelValue returns the suffix of the first label starting with prefix,
// used to read the `repo:<name>` / `worktree:<slug>` convention labels.
func (t *Task) LabelValue(prefix string) (string, bool) {
	for _, l := range t.Labels {
		if strings.HasPrefix(l, prefix) {
			return strings.TrimPrefix(l, prefix), true
		}
	}
	return "", false
}

// RepoLabel returns the `repo:` label's value, if present.
func (t *Task) RepoLabel() (string, bool) { return t.LabelValue(labelRepoPrefix) }

// WorktreeLabel returns the `worktree:` label's value, if present.
func (t *Task) WorktreeLabel() (string, bool) { return t.LabelValue(labelWTPrefix) }

// CreateOptions parameterizes Client.Create.
type CreateOptions struct {
	Title  string
	Type   string
	Parent string
	Labels []string
}

// ListOptions parameterizes Client.List.
type ListOptions struct {
	Parent string
	Status string
	Labels []string
}

// UpdateOptions parameterizes Client.Update; zero values leave a field
// untouched except AddLabels/RemoveLabels, which are always applied.
type UpdateOptions struct {
	AddLabels    []string
	RemoveLabels []string
	Assignee     string
	Title        string
}

// Client shells out to the configured task-store binary.
type Client struct {
	binary string
}

// NewClient creates a Client invoking binary (the configured task-store
// CLI path, spec §6.1 TaskStore.Binary).
func NewClient(binary string) *Client {
	if binary == "" {
		binary = "bismark-tasks"
	}
	return &Client{binary: binary}
}

// Available checks whether the task-store binary is reachable, letting
// callers degrade gracefully instead of failing every plan operation.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// Ensure makes sure a task-store database exists for planID, creating one
// (and initializing its git repository) if necessary. It is idempotent.
func (c *Client) Ensure(ctx context.Context, planID string) error {
	_, err := c.run(ctx, "ensure", "--plan", planID)
	return err
}

// Create adds a new task under planID and returns its id.
func (c *Client) Create(ctx context.Context, planID string, opts CreateOptions) (string, error) {
	args := []string{"create", "--plan", planID, "--title", opts.Title, "--json"}
	if opts.Type != "" {
		args = append(args, "--type", opts.Type)
	}
	if opts.Parent != "" {
		args = append(args, "--parent", opts.Parent)
	}
	for _, l := range opts.Labels {
		args = append(args, "--label", l)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	var t Task
	if jerr := json.Unmarshal(out, &t); jerr != nil {
		return "", apperrors.ParseError("parse task-store create output", jerr)
	}
	return t.ID, nil
}

// List returns the tasks under planID matching opts.
func (c *Client) List(ctx context.Context, planID string, opts ListOptions) ([]*Task, error) {
	args := []string{"list", "--plan", planID, "--json"}
	if opts.Parent != "" {
		args = append(args, "--parent", opts.Parent)
	}
	if opts.Status != "" {
		args = append(args, "--status", opts.Status)
	}
	for _, l := range opts.Labels {
		args = append(args, "--label", l)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var tasks []*Task
	if jerr := json.Unmarshal(out, &tasks); jerr != nil {
		return nil, apperrors.ParseError("parse task-store list output", jerr)
	}
	return tasks, nil
}

// Get returns a single task by id, or nil if it does not exist.
func (c *Client) Get(ctx context.Context, planID, taskID string) (*Task, error) {
	out, err := c.run(ctx, "get", "--plan", planID, "--task", taskID, "--json")
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var t Task
	if jerr := json.Unmarshal(out, &t); jerr != nil {
		return nil, apperrors.ParseError("parse task-store get output", jerr)
	}
	return &t, nil
}

// Update applies label/assignee/title changes to a task.
func (c *Client) Update(ctx context.Context, planID, taskID string, opts UpdateOptions) error {
	args := []string{"update", "--plan", planID, "--task", taskID}
	for _, l := range opts.AddLabels {
		args = append(args, "--add-label", l)
	}
	for _, l := range opts.RemoveLabels {
		args = append(args, "--remove-label", l)
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee", opts.Assignee)
	}
	if opts.Title != "" {
		args = append(args, "--title", opts.Title)
	}
	_, err := c.run(ctx, args...)
	return err
}

// Relabel moves a task from one convention label to another in a single
// call, e.g. bismark-ready -> bismark-sent on dispatch (spec §4.10).
func (c *Client) Relabel(ctx context.Context, planID, taskID, from, to string) error {
	return c.Update(ctx, planID, taskID, UpdateOptions{AddLabels: []string{to}, RemoveLabels: []string{from}})
}

// Close marks a task closed, optionally recording a completion message.
func (c *Client) Close(ctx context.Context, planID, taskID, message string) error {
	args := []string{"close", "--plan", planID, "--task", taskID}
	if message != "" {
		args = append(args, "--message", message)
	}
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Timeout(fmt.Sprintf("task-store %s timed out", args[0]))
		}
		if isNotFoundError(stderr.String()) {
			return nil, apperrors.NotFound("task", strings.TrimSpace(stderr.String()))
		}
		return nil, apperrors.ExternalToolFailed("task-store "+args[0], fmt.Errorf("%w: %s", err, stderr.String()))
	}
	return stdout.Bytes(), nil
}

func isNotFoundError(stderr string) bool {
	return strings.Contains(stderr, "not found") || strings.Contains(stderr, "no such task")
}
