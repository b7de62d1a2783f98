package model

// AttentionMode controls how the UI surfaces an agent that raised its hand.
type AttentionMode string

const (
	AttentionFocus  AttentionMode = "focus"
	AttentionExpand AttentionMode = "expand"
	AttentionQueue  AttentionMode = "queue"
)

// OperatingMode distinguishes a single-user session from a team deployment.
type OperatingMode string

const (
	OperatingSolo OperatingMode = "solo"
	OperatingTeam OperatingMode = "team"
)

// AgentModel names the assistant model tier requested for new agents.
type AgentModel string

const (
	ModelOpus   AgentModel = "opus"
	ModelSonnet AgentModel = "sonnet"
	ModelHaiku  AgentModel = "haiku"
)

// Preferences is the durable user-preference record (spec §3 "Preferences").
type Preferences struct {
	AttentionMode AttentionMode `json:"attentionMode"`
	OperatingMode OperatingMode `json:"operatingMode"`
	AgentModel    AgentModel    `json:"agentModel"`
	GridSize      GridSize      `json:"gridSize"`
	TutorialSeen  bool          `json:"tutorialSeen"`
}

// DefaultPreferences returns the preference set a fresh install starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		AttentionMode: AttentionQueue,
		OperatingMode: OperatingSolo,
		AgentModel:    ModelSonnet,
		GridSize:      Grid2x2,
		TutorialSeen:  false,
	}
}
