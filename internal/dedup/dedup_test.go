package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	tracker := NewTracker()

	assert.False(t, tracker.Seen("support", 42))
	tracker.MarkSeen("support", 42)
	assert.True(t, tracker.Seen("support", 42))

	// Same UID under another persona is a different message.
	assert.False(t, tracker.Seen("sales", 42))
	tracker.MarkSeen("sales", 42)

	assert.Equal(t, 2, tracker.Len())

	// Marking twice is harmless.
	tracker.MarkSeen("support", 42)
	assert.Equal(t, 2, tracker.Len())
}
