package state

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// statKeys are the self-written keys a change to which must never trigger a
// restart.
var statKeys = map[string]bool{
	KeyProcessed:     true,
	KeySkipped:       true,
	KeyAnswered:      true,
	KeyBCC:           true,
	KeyLastReset:     true,
	KeyDailyCount:    true,
	KeySenderHistory: true,
}

// Watcher observes the env file for external edits. A change to a meaningful
// MAILAI_* key invokes the onChange callback (full process restart); stat-key
// changes are ignored. It doubles as the store's WatchGuard: writes are
// bracketed by Suspend/Resume so the process never reacts to itself.
type Watcher struct {
	path     string
	onChange func()
	fw       *fsnotify.Watcher

	mu        sync.Mutex
	suspended int
	snapshot  map[string]string
	done      chan struct{}
}

// NewWatcher creates a watcher for the env file at path. onChange runs on
// the watcher goroutine whenever a meaningful configuration key changes.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		path:     path,
		onChange: onChange,
		fw:       fw,
		snapshot: meaningfulKeys(path),
		done:     make(chan struct{}),
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	go w.loop()
	return w, nil
}

// Suspend pauses change handling. Must be called before every programmatic
// write to the watched file and balanced with Resume.
func (w *Watcher) Suspend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suspended++
}

// Resume re-arms the watcher and refreshes the snapshot so the write that
// just happened is not reported as an external change.
func (w *Watcher) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.suspended > 0 {
		w.suspended--
	}
	if w.suspended == 0 {
		w.snapshot = meaningfulKeys(w.path)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.handleChange()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("Env file watcher error")
		}
	}
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	if w.suspended > 0 {
		w.mu.Unlock()
		return
	}
	previous := w.snapshot
	current := meaningfulKeys(w.path)
	w.snapshot = current
	w.mu.Unlock()

	// Key comparison is the second line of defence against reacting to our
	// own stat writes: even if an event slips past the guard, the meaningful
	// keys are unchanged.
	if !MeaningfulChange(previous, current) {
		logrus.Debug("Env file changed but no significant configuration updates detected")
		return
	}

	logrus.Info("Environment configuration changed, restarting application")
	w.onChange()
}

// MeaningfulChange reports whether two meaningful-key snapshots differ in
// either direction.
func MeaningfulChange(previous, current map[string]string) bool {
	for key, value := range current {
		if previous[key] != value {
			return true
		}
	}
	for key, value := range previous {
		if current[key] != value {
			return true
		}
	}
	return false
}

// meaningfulKeys reads the env file and keeps only MAILAI_* keys that are
// not self-written stats.
func meaningfulKeys(path string) map[string]string {
	keys := make(map[string]string)
	content, err := os.ReadFile(path)
	if err != nil {
		return keys
	}
	for key, value := range ParseEnv(string(content)) {
		if strings.HasPrefix(key, "MAILAI_") && !statKeys[key] {
			keys[key] = value
		}
	}
	return keys
}
