package state

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WatchGuard suspends an external watch on the backing file around
// programmatic writes so the writer never reacts to its own change.
type WatchGuard interface {
	Suspend()
	Resume()
}

// nopGuard is used when no watcher is attached (tests, dry runs).
type nopGuard struct{}

func (nopGuard) Suspend() {}
func (nopGuard) Resume()  {}

// EnvStore persists counters into an env-style KEY=value file by patching
// only the known stat keys in place. All unrelated lines, their order and
// formatting are preserved.
type EnvStore struct {
	path  string
	guard WatchGuard
	mu    sync.Mutex
}

// NewEnvStore creates a store backed by the file at path.
func NewEnvStore(path string) *EnvStore {
	return &EnvStore{path: path, guard: nopGuard{}}
}

// SetGuard attaches the watch guard that must bracket every write.
func (s *EnvStore) SetGuard(g WatchGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = g
}

// Load reads counters from the backing file. Missing keys fall back to
// defaults and a malformed sender history resets that field with a warning.
// Load never fails the process: on a read error it returns fresh counters.
func (s *EnvStore) Load() *Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters := NewCounters(time.Now())

	content, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("Failed to read state file %s, starting with fresh counters", s.path)
		}
		return counters
	}

	values := ParseEnv(string(content))
	counters.Processed = parseIntValue(values, KeyProcessed, 0)
	counters.Skipped = parseIntValue(values, KeySkipped, 0)
	counters.Answered = parseIntValue(values, KeyAnswered, 0)
	counters.BCCCopied = parseIntValue(values, KeyBCC, 0)
	counters.DailyCount = parseIntValue(values, KeyDailyCount, 0)

	if raw, ok := values[KeyLastReset]; ok && raw != "" {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			counters.LastReset = time.UnixMilli(millis)
		} else {
			logrus.Warnf("Invalid %s value %q, defaulting to today's midnight", KeyLastReset, raw)
		}
	}

	counters.SenderHistory = parseSenderHistory(values[KeySenderHistory])
	return counters
}

// Save rewrites the known stat keys in place and appends any that are
// absent. Saving the same counters twice produces a byte-identical file.
func (s *EnvStore) Save(c *Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guard.Suspend()
	defer s.guard.Resume()

	content := ""
	if raw, err := os.ReadFile(s.path); err == nil {
		content = string(raw)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	for _, kv := range encodeCounters(c) {
		content = patchKey(content, kv.key, kv.value)
	}

	if err := os.WriteFile(s.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", s.path, err)
	}
	return nil
}

type keyValue struct {
	key   string
	value string
}

// encodeCounters serializes counters in a fixed key order so repeated saves
// are deterministic.
func encodeCounters(c *Counters) []keyValue {
	return []keyValue{
		{KeyProcessed, strconv.Itoa(c.Processed)},
		{KeySkipped, strconv.Itoa(c.Skipped)},
		{KeyAnswered, strconv.Itoa(c.Answered)},
		{KeyBCC, strconv.Itoa(c.BCCCopied)},
		{KeyLastReset, strconv.FormatInt(c.LastReset.UnixMilli(), 10)},
		{KeyDailyCount, strconv.Itoa(c.DailyCount)},
		{KeySenderHistory, encodeSenderHistory(c.SenderHistory)},
	}
}

// patchKey replaces the line carrying key, or appends one if the key is not
// present yet.
func patchKey(content, key, value string) string {
	line := key + "=" + value
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `=.*$`)
	if re.MatchString(content) {
		return re.ReplaceAllString(content, line)
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + line + "\n"
}

// encodeSenderHistory renders the history as a JSON array of
// [address, epoch-millis] pairs, sorted by address for deterministic output.
func encodeSenderHistory(history map[string]time.Time) string {
	senders := make([]string, 0, len(history))
	for sender := range history {
		senders = append(senders, sender)
	}
	sort.Strings(senders)

	pairs := make([][2]interface{}, 0, len(senders))
	for _, sender := range senders {
		pairs = append(pairs, [2]interface{}{sender, history[sender].UnixMilli()})
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		// A map of strings to millis cannot fail to marshal.
		return "[]"
	}
	return string(raw)
}

// parseSenderHistory decodes the persisted history. Anything that is not a
// list of [address, timestamp] pairs resets the history with a warning,
// never an error.
func parseSenderHistory(raw string) map[string]time.Time {
	history := make(map[string]time.Time)
	if raw == "" {
		return history
	}

	var pairs [][]interface{}
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		logrus.Warnf("Error parsing %s: %v, resetting sender history", KeySenderHistory, err)
		return history
	}
	for _, pair := range pairs {
		if len(pair) != 2 {
			logrus.Warnf("%s is not in the expected format, resetting sender history", KeySenderHistory)
			return make(map[string]time.Time)
		}
		sender, ok := pair[0].(string)
		if !ok {
			logrus.Warnf("%s is not in the expected format, resetting sender history", KeySenderHistory)
			return make(map[string]time.Time)
		}
		switch ts := pair[1].(type) {
		case float64:
			history[sender] = time.UnixMilli(int64(ts))
		case string:
			millis, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				logrus.Warnf("%s carries a non-numeric timestamp for %s, resetting sender history", KeySenderHistory, sender)
				return make(map[string]time.Time)
			}
			history[sender] = time.UnixMilli(millis)
		default:
			logrus.Warnf("%s is not in the expected format, resetting sender history", KeySenderHistory)
			return make(map[string]time.Time)
		}
	}
	return history
}

// ParseEnv splits env-style content into a key/value map. Comments and
// malformed lines are skipped.
func ParseEnv(content string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return values
}

func parseIntValue(values map[string]string, key string, def int) int {
	raw, ok := values[key]
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Warnf("Invalid %s value %q, defaulting to %d", key, raw, def)
		return def
	}
	return n
}
