package ptysup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrape(t *testing.T) {
	assert.Equal(t, SignalBootBanner, Scrape([]byte("Welcome to Claude Code v1.2")))
	assert.Equal(t, SignalCleared, Scrape([]byte("(no content)")))
	assert.Equal(t, SignalPastedText, Scrape([]byte("[Pasted text #1 +42 lines]")))
	assert.Equal(t, SignalSessionExit, Scrape([]byte("Goodbye!")))
	assert.Equal(t, SignalNone, Scrape([]byte("just some ordinary output")))
}

func TestScrapePrefersExitOverOtherSignals(t *testing.T) {
	// A chunk that happens to contain both the paste ack and the exit
	// phrase should classify as exit: the session is ending regardless.
	assert.Equal(t, SignalSessionExit, Scrape([]byte("Pasted text\nSession ended")))
}

func TestIndividualMatchers(t *testing.T) {
	assert.True(t, MatchesCleared([]byte("(no content)")))
	assert.False(t, MatchesCleared([]byte("hello")))

	assert.True(t, MatchesPastedText([]byte("Pasted text")))
	assert.True(t, MatchesSessionExit([]byte("Session ended")))
	assert.True(t, MatchesBootBanner([]byte("Claude Code")))
}
