package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

func TestStateAuditMinimalStorage(t *testing.T) {
	t.Run("allowed fields pass", func(t *testing.T) {
		a := NewStateAudit("test-1")
		a.StoredFields = []string{"instance_id", "node_id", "module_hash", "created_at", "status"}
		assert.NoError(t, a.VerifyMinimalStorage())
	})

	t.Run("application state rejected", func(t *testing.T) {
		a := NewStateAudit("test-1")
		a.StoredFields = []string{"instance_id", "user_session_data"}
		assert.Error(t, a.VerifyMinimalStorage())
	})

	t.Run("empty audit passes", func(t *testing.T) {
		assert.NoError(t, NewStateAudit("test-1").VerifyMinimalStorage())
	})
}

func TestVerifyInstanceMetadata(t *testing.T) {
	meta := domain.InstanceMetadata{
		InstanceID: "inst-1",
		NodeID:     "node-1",
		ModuleHash: "hash123",
		CreatedAt:  time.Now(),
		Status:     domain.StatusRunning,
	}
	assert.NoError(t, VerifyInstanceMetadata(meta))

	meta.Status = 0
	assert.Error(t, VerifyInstanceMetadata(meta))
}

func TestVerifyCapabilityAssignments(t *testing.T) {
	valid := []domain.CapabilityAssignment{
		assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read"),
	}
	assert.NoError(t, VerifyCapabilityAssignments(valid))

	t.Run("empty capability_id rejected", func(t *testing.T) {
		bad := []domain.CapabilityAssignment{assignment("instance-1", "", domain.ProviderKv, "kv:read")}
		assert.Error(t, VerifyCapabilityAssignments(bad))
	})

	t.Run("empty instance_id rejected", func(t *testing.T) {
		bad := []domain.CapabilityAssignment{assignment("", "kv-1", domain.ProviderKv, "kv:read")}
		assert.Error(t, VerifyCapabilityAssignments(bad))
	})

	t.Run("empty permissions rejected", func(t *testing.T) {
		bad := []domain.CapabilityAssignment{assignment("instance-1", "kv-1", domain.ProviderKv)}
		assert.Error(t, VerifyCapabilityAssignments(bad))
	})
}

func TestVerifyRestartStateCleared(t *testing.T) {
	now := time.Now()
	old := domain.InstanceMetadata{
		InstanceID: "old-instance-id",
		NodeID:     "node-1",
		ModuleHash: "hash123",
		CreatedAt:  now,
		Status:     domain.StatusRunning,
	}

	t.Run("fresh id and newer created_at pass", func(t *testing.T) {
		replacement := old
		replacement.InstanceID = "new-instance-id"
		replacement.CreatedAt = now.Add(10 * time.Millisecond)
		replacement.Status = domain.StatusStarting
		assert.NoError(t, VerifyRestartStateCleared(&old, replacement))
	})

	t.Run("reused id rejected", func(t *testing.T) {
		replacement := old
		replacement.CreatedAt = now.Add(10 * time.Millisecond)
		assert.Error(t, VerifyRestartStateCleared(&old, replacement))
	})

	t.Run("stale created_at rejected", func(t *testing.T) {
		replacement := old
		replacement.InstanceID = "new-instance-id"
		assert.Error(t, VerifyRestartStateCleared(&old, replacement))
	})

	t.Run("no prior instance passes", func(t *testing.T) {
		assert.NoError(t, VerifyRestartStateCleared(nil, old))
	})
}
