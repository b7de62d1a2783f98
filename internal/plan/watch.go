package plan

import (
	"context"
	"time"

	"github.com/bismarkhq/bismark/internal/ptysup"
)

const exitWatchChunk = 30 * time.Second

// watchUntilExit polls terminalID in bounded chunks (WaitForOutput never
// blocks past its timeout) for the literal "Goodbye"/"Session ended" tells
// until it matches or ctx is cancelled, then runs onExit once.
func (m *Manager) watchUntilExit(ctx context.Context, terminalID string, onExit func()) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if m.sup.WaitForOutput(terminalID, ptysup.MatchesSessionExit, exitWatchChunk) {
				onExit()
				return
			}
		}
	}()
}
