package instance

import (
	"sync"
	"time"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

// defaultBackoffBase is used when a RestartPolicy's OnFailure variant omits
// BackoffSeconds.
const defaultBackoffBase uint64 = 5

// backoffExponentCap bounds the exponent to prevent overflow; 300 seconds is
// the hard ceiling on the computed delay.
const backoffExponentCap = 8
const backoffCeilingSeconds = 300

// CrashTracker owns the per-instance CrashInfo map. It is independent of the
// crashed-marker map: clearing the marker during recovery must never reset
// the count.
type CrashTracker struct {
	mu    sync.RWMutex
	infos map[string]*domain.CrashInfo
}

// NewCrashTracker creates an empty tracker.
func NewCrashTracker() *CrashTracker {
	return &CrashTracker{infos: make(map[string]*domain.CrashInfo)}
}

// RecordCrash increments the crash count for instanceID (creating the entry
// if missing) and returns a copy of the updated CrashInfo.
func (t *CrashTracker) RecordCrash(instanceID string) domain.CrashInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.infos[instanceID]
	if !ok {
		info = &domain.CrashInfo{}
		t.infos[instanceID] = info
	}
	info.CrashCount++
	now := time.Now()
	info.LastCrashTime = &now
	return *info
}

// Get returns a copy of the CrashInfo for instanceID, or the zero value if
// none is recorded yet.
func (t *CrashTracker) Get(instanceID string) domain.CrashInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if info, ok := t.infos[instanceID]; ok {
		return *info
	}
	return domain.CrashInfo{}
}

// Reset drops the crash history for instanceID. Used only for a genuinely
// new instance identifier — a
// crash-recovery restart must never call this.
func (t *CrashTracker) Reset(instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.infos, instanceID)
}

// CalculateBackoff computes delay = min(base * 2^min(crashCount-1, 8), 300)
// seconds. crashCount is 1-based at the first crash.
func CalculateBackoff(base uint64, crashCount uint32) uint64 {
	exponent := crashCount - 1
	if crashCount == 0 {
		exponent = 0
	}
	if exponent > backoffExponentCap {
		exponent = backoffExponentCap
	}
	delay := base << exponent
	if delay > backoffCeilingSeconds || delay < base {
		// delay < base catches overflow from the left shift on pathological
		// base values; treat it the same as exceeding the ceiling.
		return backoffCeilingSeconds
	}
	return delay
}

// ShouldRestart evaluates the restart policy against the current crash
// history.
// Returns the delay to apply before restarting, or (0, false) when the
// instance should not be restarted.
func ShouldRestart(policy domain.RestartPolicy, info domain.CrashInfo) (delaySeconds uint64, restart bool) {
	switch policy.Type {
	case domain.RestartNever:
		return 0, false
	case domain.RestartAlways:
		return 0, true
	case domain.RestartOnFailure:
		if policy.MaxRetries != nil && info.CrashCount > *policy.MaxRetries {
			return 0, false
		}
		base := defaultBackoffBase
		if policy.BackoffSeconds != nil {
			base = *policy.BackoffSeconds
		}
		return CalculateBackoff(base, info.CrashCount), true
	default:
		return 0, false
	}
}
