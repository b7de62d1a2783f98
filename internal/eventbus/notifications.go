package eventbus

// Notification names, contractual per spec §4.11.
const (
	TerminalData        = "terminal-data"
	TerminalExit        = "terminal-exit"
	TerminalCreated     = "terminal-created"
	TerminalQueueStatus = "terminal-queue-status"
	AgentWaiting        = "agent-waiting"
	WaitingQueueChanged = "waiting-queue-changed"
	StateUpdate         = "state-update"
	PlanUpdate          = "plan-update"
	PlanDeleted         = "plan-deleted"
	TaskAssignmentUpdate = "task-assignment-update"
	PlanActivity        = "plan-activity"
	HeadlessAgentStarted = "headless-agent-started"
	HeadlessAgentUpdate = "headless-agent-update"
	HeadlessAgentEvent  = "headless-agent-event"
	FocusWorkspace      = "focus-workspace"
	MaximizeWorkspace   = "maximize-workspace"
	GHInvocation        = "gh"
)

// TerminalDataPayload is the data carried by a TerminalData event.
type TerminalDataPayload struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

// TerminalCreatedPayload is the data carried by a TerminalCreated event.
type TerminalCreatedPayload struct {
	TerminalID string `json:"terminalId"`
	AgentID    string `json:"agentId"`
}

// TerminalExitPayload is the data carried by a TerminalExit event.
type TerminalExitPayload struct {
	TerminalID string `json:"terminalId"`
	ExitCode   int    `json:"exitCode"`
}

// SpawnQueueStatus is the data carried by a TerminalQueueStatus event.
type SpawnQueueStatus struct {
	Queued  int      `json:"queued"`
	Active  int      `json:"active"`
	Pending []string `json:"pending"`
}

// HeadlessStartedPayload is the data carried by a HeadlessAgentStarted event.
type HeadlessStartedPayload struct {
	TaskID       string `json:"taskId"`
	PlanID       string `json:"planId,omitempty"`
	WorktreePath string `json:"worktreePath"`
}

// HeadlessEventPayload is the data carried by a HeadlessAgentEvent event.
type HeadlessEventPayload struct {
	PlanID string      `json:"planId,omitempty"`
	TaskID string      `json:"taskId"`
	Event  interface{} `json:"event"`
}

// GHInvocationPayload audits one tool-proxy GitHub CLI call (spec §4.9).
type GHInvocationPayload struct {
	Path     string `json:"path"`
	Args     []string `json:"args"`
	Success  bool   `json:"success"`
	ExitCode int    `json:"exitCode"`
}
