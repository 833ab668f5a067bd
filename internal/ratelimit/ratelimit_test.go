package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailai-go/internal/models"
	"mailai-go/internal/state"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testMessage(from string, cc ...string) *models.EmailMessage {
	return &models.EmailMessage{
		UID:     1,
		From:    from,
		CC:      cc,
		Subject: "hello",
	}
}

func TestDailyLimitWinsOverEverything(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := NewWithClock(Policy{
		MaxDailyEmails:   1,
		CooldownPeriod:   time.Hour,
		ManagedAddresses: []string{"bot@example.com"},
	}, fixedClock(now))

	counters := state.NewCounters(now)
	counters.DailyCount = 1
	// Message would also trip cooldown and the CC loop; daily limit is
	// checked first.
	counters.SenderHistory["alice@example.com"] = now.Add(-time.Minute)
	msg := testMessage("alice@example.com", "bot@example.com")

	decision := limiter.Admit(counters, msg)
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonDailyLimit, decision.Reason)
}

func TestCooldownBoundary(t *testing.T) {
	cooldown := 60 * time.Second
	lastReply := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	msg := testMessage("alice@example.com")

	// One instant before the period elapses the sender is still cooling
	// down; at exactly the period it is admitted again.
	almost := NewWithClock(Policy{MaxDailyEmails: 10, CooldownPeriod: cooldown},
		fixedClock(lastReply.Add(cooldown-time.Nanosecond)))
	counters := state.NewCounters(lastReply)
	counters.SenderHistory["alice@example.com"] = lastReply

	decision := almost.Admit(counters, msg)
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonCooldown, decision.Reason)

	exact := NewWithClock(Policy{MaxDailyEmails: 10, CooldownPeriod: cooldown},
		fixedClock(lastReply.Add(cooldown)))
	decision = exact.Admit(counters, msg)
	assert.True(t, decision.Allow)
}

func TestUnknownSenderHasNoCooldown(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := NewWithClock(Policy{MaxDailyEmails: 10, CooldownPeriod: time.Hour}, fixedClock(now))
	counters := state.NewCounters(now)

	decision := limiter.Admit(counters, testMessage("new@example.com"))
	assert.True(t, decision.Allow)
}

func TestSelfCCLoop(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := NewWithClock(Policy{
		MaxDailyEmails:   10,
		CooldownPeriod:   time.Hour,
		ManagedAddresses: []string{"bot@example.com", "other@example.com"},
	}, fixedClock(now))
	counters := state.NewCounters(now)

	decision := limiter.Admit(counters, testMessage("alice@example.com", "carol@example.com", "Bot <bot@example.com>"))
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonSelfCCLoop, decision.Reason)

	decision = limiter.Admit(counters, testMessage("alice@example.com", "carol@example.com"))
	assert.True(t, decision.Allow)
}

func TestDailyRollover(t *testing.T) {
	yesterday := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)
	limiter := NewWithClock(Policy{MaxDailyEmails: 1, CooldownPeriod: 0}, fixedClock(today))

	counters := state.NewCounters(yesterday)
	counters.DailyCount = 1

	// The quota was exhausted yesterday; crossing midnight resets it before
	// the limit check runs.
	decision := limiter.Admit(counters, testMessage("alice@example.com"))
	assert.True(t, decision.Allow)
	assert.Equal(t, 0, counters.DailyCount)
	assert.Equal(t, state.Midnight(today), counters.LastReset)
}

func TestRolloverDoesNotClearSenderHistory(t *testing.T) {
	yesterday := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	today := time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)
	limiter := NewWithClock(Policy{MaxDailyEmails: 5, CooldownPeriod: time.Hour}, fixedClock(today))

	counters := state.NewCounters(yesterday)
	counters.SenderHistory["alice@example.com"] = yesterday

	decision := limiter.Admit(counters, testMessage("alice@example.com"))
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonCooldown, decision.Reason)
}

func TestCommit(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := NewWithClock(Policy{MaxDailyEmails: 10}, fixedClock(now))
	counters := state.NewCounters(now)

	limiter.Commit(counters, testMessage("alice@example.com"))
	assert.Equal(t, 1, counters.DailyCount)
	assert.Equal(t, now, counters.SenderHistory["alice@example.com"])
}
