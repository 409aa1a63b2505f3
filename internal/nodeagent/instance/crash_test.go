package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

func TestCalculateBackoff(t *testing.T) {
	t.Run("first crash uses base", func(t *testing.T) {
		assert.Equal(t, uint64(5), CalculateBackoff(5, 1))
	})

	t.Run("doubles per crash", func(t *testing.T) {
		assert.Equal(t, uint64(10), CalculateBackoff(5, 2))
		assert.Equal(t, uint64(20), CalculateBackoff(5, 3))
		assert.Equal(t, uint64(40), CalculateBackoff(5, 4))
	})

	t.Run("caps at 300 seconds", func(t *testing.T) {
		assert.Equal(t, uint64(300), CalculateBackoff(5, 20))
	})

	t.Run("zero base yields zero delay", func(t *testing.T) {
		assert.Equal(t, uint64(0), CalculateBackoff(0, 1))
	})

	t.Run("unset backoff defaults to base 5", func(t *testing.T) {
		policy := domain.RestartPolicy{Type: domain.RestartOnFailure}
		delay, restart := ShouldRestart(policy, domain.CrashInfo{CrashCount: 1})
		assert.True(t, restart)
		assert.Equal(t, uint64(5), delay)
	})
}

func TestShouldRestart(t *testing.T) {
	t.Run("never policy never restarts", func(t *testing.T) {
		delay, restart := ShouldRestart(domain.RestartPolicy{Type: domain.RestartNever}, domain.CrashInfo{CrashCount: 1})
		assert.False(t, restart)
		assert.Zero(t, delay)
	})

	t.Run("always policy restarts with no delay", func(t *testing.T) {
		delay, restart := ShouldRestart(domain.RestartPolicy{Type: domain.RestartAlways}, domain.CrashInfo{CrashCount: 5})
		assert.True(t, restart)
		assert.Zero(t, delay)
	})

	t.Run("on-failure policy stops after max retries", func(t *testing.T) {
		max := uint32(3)
		policy := domain.RestartPolicy{Type: domain.RestartOnFailure, MaxRetries: &max}
		_, restart := ShouldRestart(policy, domain.CrashInfo{CrashCount: 3})
		assert.True(t, restart)
		_, restart = ShouldRestart(policy, domain.CrashInfo{CrashCount: 4})
		assert.False(t, restart)
	})

	t.Run("on-failure policy computes backoff from crash count", func(t *testing.T) {
		base := uint64(5)
		policy := domain.RestartPolicy{Type: domain.RestartOnFailure, BackoffSeconds: &base}
		delay, restart := ShouldRestart(policy, domain.CrashInfo{CrashCount: 2})
		assert.True(t, restart)
		assert.Equal(t, uint64(10), delay)
	})
}

func TestCrashTracker(t *testing.T) {
	tracker := NewCrashTracker()

	info := tracker.RecordCrash("inst-1")
	assert.Equal(t, uint32(1), info.CrashCount)
	assert.NotNil(t, info.LastCrashTime)

	info = tracker.RecordCrash("inst-1")
	assert.Equal(t, uint32(2), info.CrashCount)

	assert.Equal(t, uint32(2), tracker.Get("inst-1").CrashCount)
	assert.Zero(t, tracker.Get("unknown").CrashCount)

	tracker.Reset("inst-1")
	assert.Zero(t, tracker.Get("inst-1").CrashCount)
}
