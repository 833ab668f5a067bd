// Package dedup tracks message identities already handled during the current
// process lifetime. It protects a single polling cycle from answering the
// same message twice; durability across restarts comes from the mailbox-side
// marker, not from this set.
package dedup

import (
	"fmt"
	"sync"
)

// Tracker is a process-lifetime set of (persona, uid) keys. Unbounded: UIDs
// are finite and capped by mailbox size.
type Tracker struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

func key(personaID string, uid uint32) string {
	return fmt.Sprintf("%s/%d", personaID, uid)
}

// Seen reports whether the message was already handled in this process.
func (t *Tracker) Seen(personaID string, uid uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seen[key(personaID, uid)]
	return ok
}

// MarkSeen records the message as handled.
func (t *Tracker) MarkSeen(personaID string, uid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[key(personaID, uid)] = struct{}{}
}

// Len returns the number of tracked messages, exposed for monitoring.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.seen)
}
