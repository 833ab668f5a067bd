package state

import (
	"time"
)

// Env keys used for persisted counters. They live alongside regular
// configuration in the same env-style file, so the store must never touch
// anything outside this set.
const (
	KeyProcessed     = "MAILAI_STATS_PROCESSED"
	KeySkipped       = "MAILAI_STATS_SKIPPED"
	KeyAnswered      = "MAILAI_STATS_ANSWERED"
	KeyBCC           = "MAILAI_STATS_BCC"
	KeyLastReset     = "MAILAI_LAST_RESET"
	KeyDailyCount    = "MAILAI_DAILY_COUNT"
	KeySenderHistory = "MAILAI_SENDER_HISTORY"
)

// Counters is the durable operational state shared by all personas.
// DailyCount reflects admitted-and-answered messages since LastReset;
// SenderHistory maps sender address to the last time a reply went out.
type Counters struct {
	Processed  int
	Skipped    int
	Answered   int
	BCCCopied  int
	DailyCount int
	LastReset  time.Time
	// SenderHistory timestamps are monotonically non-decreasing per sender.
	SenderHistory map[string]time.Time
}

// NewCounters returns zeroed counters with LastReset at today's midnight.
func NewCounters(now time.Time) *Counters {
	return &Counters{
		LastReset:     Midnight(now),
		SenderHistory: make(map[string]time.Time),
	}
}

// Midnight truncates t to its local midnight, the daily quota boundary.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Clone returns a deep copy, used to snapshot counters for the monitor API
// without holding the processing lock.
func (c *Counters) Clone() *Counters {
	cp := *c
	cp.SenderHistory = make(map[string]time.Time, len(c.SenderHistory))
	for sender, at := range c.SenderHistory {
		cp.SenderHistory[sender] = at
	}
	return &cp
}
