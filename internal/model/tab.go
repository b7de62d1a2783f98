package model

// GridSize is a user preference bounding a normal tab's capacity.
type GridSize string

const (
	Grid1x1 GridSize = "1x1"
	Grid2x2 GridSize = "2x2"
	Grid2x3 GridSize = "2x3"
	Grid3x3 GridSize = "3x3"
)

// Capacity returns the grid cell count for a GridSize, defaulting to 4.
func (g GridSize) Capacity() int {
	switch g {
	case Grid1x1:
		return 1
	case Grid2x2:
		return 4
	case Grid2x3:
		return 6
	case Grid3x3:
		return 9
	default:
		return 4
	}
}

// Tab is an ordered placement of agent ids (spec §3 "Tab"). A plan tab has
// no capacity bound; a normal tab is capped by the grid preference.
type Tab struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AgentIDs  []string `json:"agentIds"`
	IsPlanTab bool     `json:"isPlanTab,omitempty"`
	PlanID    string   `json:"planId,omitempty"`
}

// IndexOf returns the position of agentID in the tab, or -1.
func (t *Tab) IndexOf(agentID string) int {
	for i, id := range t.AgentIDs {
		if id == agentID {
			return i
		}
	}
	return -1
}
