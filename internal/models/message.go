package models

import (
	"fmt"
	"strings"
	"time"
)

// AnsweredFlag is the custom IMAP keyword applied to messages that have
// already received a generated reply. It is the durable source of truth
// across process restarts.
const AnsweredFlag = "$Mailai"

// SeenFlag is the IMAP system flag serving as the durable marker for
// personas with the seen marking strategy.
const SeenFlag = "\\Seen"

// EmailMessage represents one fetched mail for a single processing cycle.
// UIDs are only unique per mailbox, so identity is always the (persona, uid)
// pair.
type EmailMessage struct {
	UID       uint32    `json:"uid"`
	PersonaID string    `json:"persona_id"`
	MessageID string    `json:"message_id"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	CC        []string  `json:"cc"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	Keywords  []string  `json:"keywords"`
	Body      string    `json:"body"`
}

// Key returns the composite identity used by the deduplication tracker.
func (m *EmailMessage) Key() string {
	return fmt.Sprintf("%s/%d", m.PersonaID, m.UID)
}

// HasAnsweredFlag reports whether the fetched header flags already carry the
// custom answered keyword.
func (m *EmailMessage) HasAnsweredFlag() bool {
	return m.hasFlag(AnsweredFlag)
}

// HasSeenFlag reports whether the fetched header flags include \Seen.
func (m *EmailMessage) HasSeenFlag() bool {
	return m.hasFlag(SeenFlag)
}

func (m *EmailMessage) hasFlag(flag string) bool {
	for _, kw := range m.Keywords {
		if strings.EqualFold(kw, flag) {
			return true
		}
	}
	return false
}
