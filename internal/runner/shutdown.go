package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mozfx/coldstart/internal/logging"
)

var shutdownLog = logging.L("runner.shutdown")

// ShutdownProvider initiates an OS restart. Implementations are platform
// specific; NewShutdownProvider picks the right one for the running OS.
type ShutdownProvider interface {
	InitiateRestart(reason string) error
}

// rebootBreaker caps how many restarts InitiateRestart will honor within a
// rolling 24-hour window. Disabled (always allow) when maxPerDay <= 0.
//
// Grounded on the reboot-frequency cap in the teacher's RebootManager, which
// refuses to execute a reboot once the host has already restarted
// maxRebootsPerDay times in the preceding 24 hours and persists the history
// to survive process restarts.
type rebootBreaker struct {
	maxPerDay   int
	historyPath string
}

func newRebootBreaker(maxPerDay int, historyPath string) *rebootBreaker {
	return &rebootBreaker{maxPerDay: maxPerDay, historyPath: historyPath}
}

func (b *rebootBreaker) allow() bool {
	if b.maxPerDay <= 0 {
		return true
	}
	history := b.load()
	return len(recentWithin(history, 24*time.Hour)) < b.maxPerDay
}

func (b *rebootBreaker) record() {
	if b.maxPerDay <= 0 {
		return
	}
	history := recentWithin(b.load(), 24*time.Hour)
	history = append(history, time.Now())
	b.save(history)
}

func (b *rebootBreaker) load() []time.Time {
	raw, err := os.ReadFile(b.historyPath)
	if err != nil {
		return nil
	}
	var history []time.Time
	if err := json.Unmarshal(raw, &history); err != nil {
		shutdownLog.Warn("reboot history corrupt, discarding", "path", b.historyPath, "error", err)
		return nil
	}
	return history
}

func (b *rebootBreaker) save(history []time.Time) {
	raw, err := json.Marshal(history)
	if err != nil {
		shutdownLog.Warn("marshal reboot history failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(b.historyPath), 0755); err != nil {
		shutdownLog.Warn("create reboot history dir failed", "error", err)
		return
	}
	if err := os.WriteFile(b.historyPath, raw, 0644); err != nil {
		shutdownLog.Warn("write reboot history failed", "error", err)
	}
}

func recentWithin(history []time.Time, window time.Duration) []time.Time {
	cutoff := time.Now().Add(-window)
	kept := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// errBreakerTripped is returned when InitiateRestart is refused by the
// circuit breaker.
func errBreakerTripped(maxPerDay int) error {
	return fmt.Errorf("runner: restart refused, already restarted %d times in the last 24h", maxPerDay)
}
