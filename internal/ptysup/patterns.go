package ptysup

import "regexp"

// Patterns the supervisor scrapes from a child's raw PTY output. Spec §9
// calls for a single registry so porting to a different coding-assistant
// CLI means editing this file alone: the boot banner, the "/clear"
// tell, the bracketed-paste acknowledgement, and the exit phrases.
var (
	bootBannerPattern   = regexp.MustCompile(`Claude Code`)
	clearedPattern      = regexp.MustCompile(`\(no content\)`)
	pastedTextPattern   = regexp.MustCompile(`Pasted text`)
	sessionExitPattern  = regexp.MustCompile(`Goodbye|Session ended`)
)

// ScrapeSignal names which pattern, if any, matched a chunk of output.
type ScrapeSignal int

const (
	SignalNone ScrapeSignal = iota
	SignalBootBanner
	SignalCleared
	SignalPastedText
	SignalSessionExit
)

// Scrape classifies a chunk of raw PTY output against the pattern registry.
// A chunk may legitimately match more than one pattern; Scrape returns only
// the first match in the order exit, paste, cleared, boot banner, so callers
// that track more than one signal use the individual Matches* functions.
func Scrape(chunk []byte) ScrapeSignal {
	switch {
	case sessionExitPattern.Match(chunk):
		return SignalSessionExit
	case pastedTextPattern.Match(chunk):
		return SignalPastedText
	case clearedPattern.Match(chunk):
		return SignalCleared
	case bootBannerPattern.Match(chunk):
		return SignalBootBanner
	default:
		return SignalNone
	}
}

// MatchesCleared reports whether chunk contains the "/clear" tell.
func MatchesCleared(chunk []byte) bool { return clearedPattern.Match(chunk) }

// MatchesPastedText reports whether chunk acknowledges a bracketed paste.
func MatchesPastedText(chunk []byte) bool { return pastedTextPattern.Match(chunk) }

// MatchesSessionExit reports whether chunk signals the agent said goodbye.
func MatchesSessionExit(chunk []byte) bool { return sessionExitPattern.Match(chunk) }

// MatchesBootBanner reports whether chunk contains the CLI's boot banner.
func MatchesBootBanner(chunk []byte) bool { return bootBannerPattern.Match(chunk) }
