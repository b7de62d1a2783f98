package model

import "time"

// HeadlessStatus is the container-backed worker's lifecycle state (spec §4.8).
type HeadlessStatus string

const (
	HeadlessIdle     HeadlessStatus = "idle"
	HeadlessStarting HeadlessStatus = "starting"
	HeadlessRunning  HeadlessStatus = "running"
	HeadlessCompleted HeadlessStatus = "completed"
	HeadlessFailed   HeadlessStatus = "failed"
	HeadlessStopping HeadlessStatus = "stopping"
)

// HeadlessResult is a headless run's outcome as the runtime records it:
// PRURL from the worker's stream text and ExitCode from the container's
// exit. A `result` stream event is not copied into it, so Success, CostUSD
// and Duration are left unset by the runtime.
type HeadlessResult struct {
	Success  bool    `json:"success"`
	ExitCode int     `json:"exitCode"`
	CostUSD  float64 `json:"costUsd,omitempty"`
	Duration float64 `json:"durationSeconds,omitempty"`
	PRURL    string  `json:"prUrl,omitempty"`
}

// StreamEventType tags the union carried by StreamEvent (spec §3).
type StreamEventType string

const (
	StreamInit               StreamEventType = "init"
	StreamMessage            StreamEventType = "message"
	StreamToolUse            StreamEventType = "tool_use"
	StreamToolResult         StreamEventType = "tool_result"
	StreamResult             StreamEventType = "result"
	StreamContentBlockDelta  StreamEventType = "content_block_delta"
	StreamAssistant          StreamEventType = "assistant"
	StreamEventStatus        StreamEventType = "status"
)

// StreamEvent is one line of the headless worker's newline-delimited JSON
// stdout stream (spec §3, §4.8, §6.4). Payload carries the type-specific
// body verbatim; callers type-assert based on Type. ID and Timestamp are
// stamped by the supervisor as each line is read, not by the container.
type StreamEvent struct {
	ID        string                 `json:"id,omitempty"`
	Type      StreamEventType        `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// TextPayload extracts the free-text field used by message/assistant/
// content_block_delta events for pattern scraping (PR URL extraction, §4.8).
func (e *StreamEvent) TextPayload() string {
	if e.Payload == nil {
		return ""
	}
	if s, ok := e.Payload["text"].(string); ok {
		return s
	}
	if s, ok := e.Payload["content"].(string); ok {
		return s
	}
	return ""
}

// HeadlessAgentInfo is the full supervised state of one headless worker
// (spec §3 "HeadlessAgentInfo").
type HeadlessAgentInfo struct {
	TaskID       string          `json:"taskId"`
	PlanID       string          `json:"planId,omitempty"` // empty for standalone runs
	ContainerID  string          `json:"containerId,omitempty"`
	Status       HeadlessStatus  `json:"status"`
	WorktreePath string          `json:"worktreePath"`
	Events       []StreamEvent   `json:"events"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  time.Time       `json:"completedAt,omitempty"`
	Result       *HeadlessResult `json:"result,omitempty"`
}
