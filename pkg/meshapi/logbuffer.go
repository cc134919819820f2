package meshapi

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntryLimit is the capacity of the circular log buffer the facade
// exposes to the host (§4.8): the last 500 entries, oldest dropped first.
const LogEntryLimit = 500

// LogEntry is a single line surfaced through GetLogs.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// logRingHook is a logrus.Hook that mirrors every log line emitted through
// the standard logger into a fixed-size ring buffer, the way the teacher's
// HealthLogger wires a *logrus.Logger into a long-lived component -- here
// reused as a hook rather than a second logger, since the facade only
// needs to observe, not redirect, node log output.
type logRingHook struct {
	mu      sync.Mutex
	entries []LogEntry
}

func newLogRingHook() *logRingHook {
	return &logRingHook{entries: make([]LogEntry, 0, LogEntryLimit)}
}

func (h *logRingHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *logRingHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, LogEntry{Time: e.Time, Level: e.Level.String(), Message: e.Message})
	if over := len(h.entries) - LogEntryLimit; over > 0 {
		h.entries = h.entries[over:]
	}
	return nil
}

// snapshot returns up to limit of the most recent entries (all of them if
// limit <= 0 or larger than the buffer).
func (h *logRingHook) snapshot(limit int) []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]LogEntry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

func (h *logRingHook) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
}
