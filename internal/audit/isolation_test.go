package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

func assignment(instanceID, capabilityID string, providerType domain.ProviderType, permissions ...string) domain.CapabilityAssignment {
	return domain.CapabilityAssignment{
		InstanceID:   instanceID,
		CapabilityID: capabilityID,
		ProviderType: providerType,
		Permissions:  permissions,
	}
}

func TestSharedAssignments(t *testing.T) {
	t.Run("both empty", func(t *testing.T) {
		assert.False(t, SharedAssignments(nil, nil))
	})

	t.Run("no overlap", func(t *testing.T) {
		a := []domain.CapabilityAssignment{
			assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read"),
			assignment("instance-1", "http-1", domain.ProviderHttp, "http:request"),
		}
		b := []domain.CapabilityAssignment{
			assignment("instance-2", "kv-2", domain.ProviderKv, "kv:write"),
		}
		assert.False(t, SharedAssignments(a, b))
	})

	t.Run("same capability and permissions", func(t *testing.T) {
		a := []domain.CapabilityAssignment{assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read")}
		b := []domain.CapabilityAssignment{assignment("instance-2", "kv-1", domain.ProviderKv, "kv:read")}
		assert.True(t, SharedAssignments(a, b))
	})

	t.Run("same capability with different permissions", func(t *testing.T) {
		a := []domain.CapabilityAssignment{assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read")}
		b := []domain.CapabilityAssignment{assignment("instance-2", "kv-1", domain.ProviderKv, "kv:write")}
		assert.False(t, SharedAssignments(a, b))
	})
}

func TestProviderScoped(t *testing.T) {
	scoped := []domain.CapabilityAssignment{assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read")}
	assert.True(t, ProviderScoped("instance-1", scoped))

	foreign := []domain.CapabilityAssignment{assignment("instance-2", "kv-1", domain.ProviderKv, "kv:read")}
	assert.False(t, ProviderScoped("instance-1", foreign))

	assert.True(t, ProviderScoped("instance-1", nil))
}

func TestSandboxRegisterUnregister(t *testing.T) {
	s := NewSandbox()
	assert.Zero(t, s.Count())
	assert.False(t, s.Registered("instance-1"))

	s.Register("instance-1", []domain.CapabilityAssignment{
		assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read"),
	})
	assert.Equal(t, 1, s.Count())
	assert.True(t, s.Registered("instance-1"))

	s.Unregister("instance-1")
	assert.Zero(t, s.Count())
	assert.False(t, s.Registered("instance-1"))

	// Unregistering again is a no-op.
	s.Unregister("instance-1")
}

func TestSandboxDoubleRegistrationOverwrites(t *testing.T) {
	s := NewSandbox()
	caps := []domain.CapabilityAssignment{assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read")}
	s.Register("instance-1", caps)
	s.Register("instance-1", caps)
	assert.Equal(t, 1, s.Count())
}

func TestSandboxCapabilityIsolation(t *testing.T) {
	s := NewSandbox()
	s.Register("instance-1", []domain.CapabilityAssignment{
		assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read"),
	})
	s.Register("instance-2", []domain.CapabilityAssignment{
		assignment("instance-2", "kv-2", domain.ProviderKv, "kv:write"),
	})

	assert.True(t, s.CanAccessCapability("instance-1", "kv-1"))
	assert.False(t, s.CanAccessCapability("instance-1", "kv-2"), "cannot reach another instance's capability")
	assert.False(t, s.CanAccessCapability("ghost", "kv-1"))
}

func TestSandboxCapabilitiesScopedPerInstance(t *testing.T) {
	s := NewSandbox()
	s.Register("instance-1", []domain.CapabilityAssignment{
		assignment("instance-1", "kv-1", domain.ProviderKv, "kv:read"),
		assignment("instance-1", "http-1", domain.ProviderHttp, "http:request"),
		assignment("instance-1", "msg-1", domain.ProviderMessaging, "msg:publish"),
	})

	caps, ok := s.Capabilities("instance-1")
	require.True(t, ok)
	assert.Len(t, caps, 3)

	_, ok = s.Capabilities("instance-2")
	assert.False(t, ok)
}

func TestSandboxManyInstancesPairwiseIsolated(t *testing.T) {
	s := NewSandbox()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("instance-%d", i)
		s.Register(id, []domain.CapabilityAssignment{
			assignment(id, fmt.Sprintf("kv-%d", i), domain.ProviderKv, "kv:read"),
		})
	}
	assert.Equal(t, 5, s.Count())

	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			if i == j {
				continue
			}
			assert.False(t, s.CanAccessCapability(
				fmt.Sprintf("instance-%d", i),
				fmt.Sprintf("kv-%d", j),
			))
		}
	}
}
