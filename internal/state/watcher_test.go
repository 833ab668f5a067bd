package state

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeaningfulChange(t *testing.T) {
	base := map[string]string{
		"MAILAI_MODE":               "production",
		"MAILAI_SUPPORT_EMAIL_USER": "support@example.com",
	}

	assert.False(t, MeaningfulChange(base, map[string]string{
		"MAILAI_MODE":               "production",
		"MAILAI_SUPPORT_EMAIL_USER": "support@example.com",
	}))

	// Changed value.
	assert.True(t, MeaningfulChange(base, map[string]string{
		"MAILAI_MODE":               "testing",
		"MAILAI_SUPPORT_EMAIL_USER": "support@example.com",
	}))

	// Added key.
	assert.True(t, MeaningfulChange(base, map[string]string{
		"MAILAI_MODE":               "production",
		"MAILAI_SUPPORT_EMAIL_USER": "support@example.com",
		"MAILAI_MAX_EMAILS_PER_DAY": "20",
	}))

	// Removed key must also count as a change.
	assert.True(t, MeaningfulChange(base, map[string]string{
		"MAILAI_MODE": "production",
	}))

	assert.False(t, MeaningfulChange(map[string]string{}, map[string]string{}))
}

func TestWatcherRestartsOnConfigEdit(t *testing.T) {
	path := tempEnvFile(t, "MAILAI_MODE=production\n")
	var fired atomic.Int32
	w, err := NewWatcher(path, func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("MAILAI_MODE=testing\n"), 0o644))
	assert.Eventually(t, func() bool { return fired.Load() > 0 },
		3*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresOwnStatWrites(t *testing.T) {
	path := tempEnvFile(t, "MAILAI_MODE=production\n")
	var fired atomic.Int32
	w, err := NewWatcher(path, func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	store := NewEnvStore(path)
	store.SetGuard(w)
	counters := NewCounters(time.Now())
	counters.Answered = 3
	require.NoError(t, store.Save(counters))

	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestWatchedConfigWithSeparateStateFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".env")
	statePath := filepath.Join(dir, "state.env")
	require.NoError(t, os.WriteFile(cfgPath, []byte("MAILAI_MODE=production\n"), 0o644))

	var fired atomic.Int32
	w, err := NewWatcher(cfgPath, func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	// Counter writes go to the state file without a guard; the config watch
	// must not react to them.
	store := NewEnvStore(statePath)
	require.NoError(t, store.Save(NewCounters(time.Now())))
	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, fired.Load())

	// An edit to the config file itself still requests a restart.
	require.NoError(t, os.WriteFile(cfgPath, []byte("MAILAI_MODE=dry_run\n"), 0o644))
	assert.Eventually(t, func() bool { return fired.Load() > 0 },
		3*time.Second, 10*time.Millisecond)
}

func TestMeaningfulKeysSkipsStats(t *testing.T) {
	path := tempEnvFile(t, `MAILAI_MODE=production
MAILAI_STATS_PROCESSED=10
MAILAI_DAILY_COUNT=3
MAILAI_SENDER_HISTORY=[]
OTHER_VAR=1
`)
	keys := meaningfulKeys(path)
	assert.Equal(t, map[string]string{"MAILAI_MODE": "production"}, keys)
}
