package ratelimit

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mailai-go/internal/models"
	"mailai-go/internal/state"
)

// Reason explains why a message was rejected. An empty reason means the
// message was admitted.
type Reason string

const (
	ReasonDailyLimit Reason = "daily_limit"
	ReasonCooldown   Reason = "cooldown"
	ReasonSelfCCLoop Reason = "self_cc_loop"
)

// Decision is the admission outcome for one candidate message. Rejections
// are normal outcomes, not errors.
type Decision struct {
	Allow  bool
	Reason Reason
}

var allowed = Decision{Allow: true}

func rejected(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Policy is the static rate-limiting configuration.
type Policy struct {
	MaxDailyEmails int
	CooldownPeriod time.Duration
	// ManagedAddresses are all mailbox addresses this process answers for.
	// A message CC'ing any of them is refused to stop personas answering
	// each other forever.
	ManagedAddresses []string
}

// Limiter applies the admission policy against shared counters. It is not
// itself synchronized; the lifecycle controller serializes access.
type Limiter struct {
	policy Policy
	now    func() time.Time
}

// New creates a limiter using the wall clock.
func New(policy Policy) *Limiter {
	return &Limiter{policy: policy, now: time.Now}
}

// NewWithClock creates a limiter with an injected clock for tests.
func NewWithClock(policy Policy, now func() time.Time) *Limiter {
	return &Limiter{policy: policy, now: now}
}

// Admit decides whether the message should be answered. Rules run in order,
// first match wins: daily rollover (a mutation, because today's quota
// depends on it), daily quota, sender cooldown, managed-address CC loop.
// Verbose/debug modes never bypass these checks.
func (l *Limiter) Admit(c *state.Counters, msg *models.EmailMessage) Decision {
	now := l.now()

	if midnight := state.Midnight(now); midnight.After(c.LastReset) {
		c.DailyCount = 0
		c.LastReset = midnight
	}

	if c.DailyCount >= l.policy.MaxDailyEmails {
		logrus.Warnf("Daily email limit (%d) reached, skipping until tomorrow", l.policy.MaxDailyEmails)
		return rejected(ReasonDailyLimit)
	}

	if last, ok := c.SenderHistory[msg.From]; ok {
		if now.Sub(last) < l.policy.CooldownPeriod {
			logrus.Infof("Skipping email %q, cooldown period active for sender %s", msg.Subject, msg.From)
			return rejected(ReasonCooldown)
		}
	}

	for _, managed := range l.policy.ManagedAddresses {
		managed = strings.TrimSpace(managed)
		if managed == "" {
			continue
		}
		for _, cc := range msg.CC {
			if strings.Contains(cc, managed) {
				logrus.Infof("Skipping email %q, managed address %s is in CC, preventing auto-response loop", msg.Subject, managed)
				return rejected(ReasonSelfCCLoop)
			}
		}
	}

	return allowed
}

// Commit records a successfully answered message: it bumps the daily count
// and stamps the sender's history. Must run exactly once per answered
// message, never for rejected or failed ones.
func (l *Limiter) Commit(c *state.Counters, msg *models.EmailMessage) {
	c.DailyCount++
	c.SenderHistory[msg.From] = l.now()
}
