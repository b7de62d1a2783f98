// Package store implements C1: durable JSON persistence for agents,
// repositories, preferences/app-state, and per-plan collections under the
// config root (spec §4.1, §6.1).
package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/model"
	"github.com/bismarkhq/bismark/internal/store/jsonfile"
)

// Store is the root persistence handle rooted at ~/.bismark (spec §6.1).
type Store struct {
	dir    string
	log    *logger.Logger
}

// New creates a Store rooted at dir, creating it if necessary on first write.
func New(dir string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{dir: dir, log: log.WithFields(zap.String("component", "store"))}
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

// --- Agents (config.json) ---

// ListAgents returns all known agents; a missing file yields an empty list.
func (s *Store) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	agents, err := jsonfile.Load(s.path("config.json"), []*model.Agent{})
	if err != nil {
		s.log.Warn("failed to load agents, returning empty set", zap.Error(err))
		return []*model.Agent{}, nil
	}
	return agents, nil
}

// GetAgentByID returns the agent with id, or nil if not found.
func (s *Store) GetAgentByID(ctx context.Context, id string) (*model.Agent, error) {
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

// SaveAgent inserts or replaces an agent record by id.
func (s *Store) SaveAgent(ctx context.Context, agent *model.Agent) error {
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return err
	}
	found := false
	for i, a := range agents {
		if a.ID == agent.ID {
			agents[i] = agent
			found = true
			break
		}
	}
	if !found {
		agents = append(agents, agent)
	}
	if err := jsonfile.Save(s.path("config.json"), agents); err != nil {
		s.log.Error("failed to save agent", zap.String("agent_id", agent.ID), zap.Error(err))
		return err
	}
	return nil
}

// DeleteAgent removes an agent record by id; absence is not an error.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return err
	}
	out := agents[:0]
	for _, a := range agents {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return jsonfile.Save(s.path("config.json"), out)
}

// --- Auth token (credentials.json) ---
//
// Acquiring the token (the OAuth device/browser flow against the
// coding-assistant CLI's provider) is out of scope here; this is just the
// durable slot runSetup writes into and the other Auth operations read
// from.

type credentials struct {
	Token string `json:"token,omitempty"`
}

// GetToken returns the persisted assistant-CLI token, or "" if none is set.
func (s *Store) GetToken(ctx context.Context) (string, error) {
	c, err := jsonfile.Load(s.path("credentials.json"), credentials{})
	if err != nil {
		return "", err
	}
	return c.Token, nil
}

// SetToken persists token, overwriting any previous value.
func (s *Store) SetToken(ctx context.Context, token string) error {
	return jsonfile.Save(s.path("credentials.json"), credentials{Token: token})
}

// HasToken reports whether a non-empty token is persisted.
func (s *Store) HasToken(ctx context.Context) (bool, error) {
	token, err := s.GetToken(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// ClearToken removes the persisted token, if any.
func (s *Store) ClearToken(ctx context.Context) error {
	return jsonfile.Save(s.path("credentials.json"), credentials{})
}

// --- Repositories (repositories.json) ---

func (s *Store) ListRepositories(ctx context.Context) ([]*model.Repository, error) {
	repos, err := jsonfile.Load(s.path("repositories.json"), []*model.Repository{})
	if err != nil {
		s.log.Warn("failed to load repositories, returning empty set", zap.Error(err))
		return []*model.Repository{}, nil
	}
	return repos, nil
}

func (s *Store) SaveRepository(ctx context.Context, repo *model.Repository) error {
	repos, err := s.ListRepositories(ctx)
	if err != nil {
		return err
	}
	found := false
	for i, r := range repos {
		if r.ID == repo.ID {
			repos[i] = repo
			found = true
			break
		}
	}
	if !found {
		repos = append(repos, repo)
	}
	return jsonfile.Save(s.path("repositories.json"), repos)
}

func (s *Store) GetRepositoryByID(ctx context.Context, id string) (*model.Repository, error) {
	repos, err := s.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

// --- App state (state.json): preferences, tabs, activeTabId, focus ---

// AppState is the full C4-owned document persisted as one file.
type AppState struct {
	Preferences  model.Preferences `json:"preferences"`
	Tabs         []*model.Tab      `json:"tabs"`
	ActiveTabID  string            `json:"activeTabId,omitempty"`
	FocusedAgent string            `json:"focusedAgent,omitempty"`
	Attention    []string          `json:"attentionQueue"`
}

func DefaultAppState() AppState {
	return AppState{
		Preferences: model.DefaultPreferences(),
		Tabs:        []*model.Tab{},
		Attention:   []string{},
	}
}

func (s *Store) LoadState(ctx context.Context) (AppState, error) {
	st, err := jsonfile.Load(s.path("state.json"), DefaultAppState())
	if err != nil {
		s.log.Warn("failed to load app state, using defaults", zap.Error(err))
		return DefaultAppState(), nil
	}
	return st, nil
}

func (s *Store) SaveState(ctx context.Context, st AppState) error {
	return jsonfile.Save(s.path("state.json"), st)
}

// --- Plans (plans/{planId}/plan.json, assignments.json, activities.json) ---

func (s *Store) planDir(planID string) string {
	return s.path("plans", planID)
}

// PlanDir returns the on-disk directory for planID, the same path used as
// the orchestrator/planner agents' working directory (spec §4.10 step 4).
func (s *Store) PlanDir(planID string) string {
	return s.planDir(planID)
}

func (s *Store) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	entries, err := listDirs(s.path("plans"))
	if err != nil {
		return []*model.Plan{}, nil
	}
	plans := make([]*model.Plan, 0, len(entries))
	for _, id := range entries {
		p, err := s.GetPlanByID(ctx, id)
		if err != nil || p == nil {
			continue
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (s *Store) GetPlanByID(ctx context.Context, id string) (*model.Plan, error) {
	var zero *model.Plan
	p, err := jsonfile.Load(filepath.Join(s.planDir(id), "plan.json"), zero)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) SavePlan(ctx context.Context, plan *model.Plan) error {
	return jsonfile.Save(filepath.Join(s.planDir(plan.ID), "plan.json"), plan)
}

func (s *Store) DeletePlan(ctx context.Context, id string) error {
	return removeAll(s.planDir(id))
}

func (s *Store) LoadAssignments(ctx context.Context, planID string) ([]*model.TaskAssignment, error) {
	return jsonfile.Load(filepath.Join(s.planDir(planID), "assignments.json"), []*model.TaskAssignment{})
}

func (s *Store) SaveAssignments(ctx context.Context, planID string, assignments []*model.TaskAssignment) error {
	return jsonfile.Save(filepath.Join(s.planDir(planID), "assignments.json"), assignments)
}

func (s *Store) LoadActivities(ctx context.Context, planID string) ([]*model.PlanActivity, error) {
	return jsonfile.Load(filepath.Join(s.planDir(planID), "activities.json"), []*model.PlanActivity{})
}

// AppendActivity appends one activity record, rewriting activities.json
// in full (the collection is small and read far more than written).
func (s *Store) AppendActivity(ctx context.Context, planID string, a *model.PlanActivity) error {
	activities, err := s.LoadActivities(ctx, planID)
	if err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	activities = append(activities, a)
	return jsonfile.Save(filepath.Join(s.planDir(planID), "activities.json"), activities)
}

func (s *Store) LoadWorktrees(ctx context.Context, planID string) ([]*model.PlanWorktree, error) {
	return jsonfile.Load(filepath.Join(s.planDir(planID), "worktrees.json"), []*model.PlanWorktree{})
}

func (s *Store) SaveWorktrees(ctx context.Context, planID string, worktrees []*model.PlanWorktree) error {
	return jsonfile.Save(filepath.Join(s.planDir(planID), "worktrees.json"), worktrees)
}

// --- Headless stream-event logs (plans/{planId}/headless/{taskId}.jsonl) ---

func (s *Store) headlessLogPath(planID, taskID string) string {
	dir := s.path("plans", planID, "headless")
	if planID == "" {
		dir = s.path("standalone", "headless")
	}
	return filepath.Join(dir, taskID+".jsonl")
}

// LoadHeadlessEvents rehydrates a worker's persisted event log on restart.
func (s *Store) LoadHeadlessEvents(ctx context.Context, planID, taskID string) ([]model.StreamEvent, error) {
	return readJSONLines[model.StreamEvent](s.headlessLogPath(planID, taskID))
}

// AppendHeadlessEvent appends one stream event line.
func (s *Store) AppendHeadlessEvent(ctx context.Context, planID, taskID string, ev model.StreamEvent) error {
	return jsonfile.AppendLine(s.headlessLogPath(planID, taskID), ev)
}
