package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []domain.InstanceStatus{domain.StatusStarting, domain.StatusRunning, domain.StatusStopped, domain.StatusCrashed} {
		wireVal := FromDomainStatus(s)
		back, err := ToDomainStatus(wireVal)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
}

func TestUnspecifiedStatusRejected(t *testing.T) {
	_, err := ToDomainStatus(InstanceStatusUnspecified)
	assert.Error(t, err)
}

func TestProviderTypeRoundTrip(t *testing.T) {
	for _, p := range []domain.ProviderType{domain.ProviderKv, domain.ProviderHttp, domain.ProviderMessaging} {
		wireVal := FromDomainProviderType(p)
		back, err := ToDomainProviderType(wireVal)
		require.NoError(t, err)
		assert.Equal(t, p, back)
	}
}

func TestUnspecifiedProviderTypeRejected(t *testing.T) {
	_, err := ToDomainProviderType(ProviderTypeUnspecified)
	assert.Error(t, err)
}

func TestRestartPolicyRoundTrip(t *testing.T) {
	max := uint32(3)
	backoff := uint64(10)
	policy := domain.RestartPolicy{Type: domain.RestartOnFailure, MaxRetries: &max, BackoffSeconds: &backoff}

	wireVal := FromDomainRestartPolicy(policy)
	back, err := ToDomainRestartPolicy(wireVal)
	require.NoError(t, err)
	assert.Equal(t, policy.Type, back.Type)
	require.NotNil(t, back.MaxRetries)
	assert.Equal(t, max, *back.MaxRetries)
	require.NotNil(t, back.BackoffSeconds)
	assert.Equal(t, backoff, *back.BackoffSeconds)
}

func TestUnspecifiedRestartPolicyRejected(t *testing.T) {
	_, err := ToDomainRestartPolicy(RestartPolicy{PolicyType: RestartPolicyTypeUnspecified})
	assert.Error(t, err)
}

func TestCapabilityAssignmentRoundTrip(t *testing.T) {
	a := domain.CapabilityAssignment{
		InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderKv, Permissions: []string{"kv:read"},
	}
	wireVal := FromDomainCapabilityAssignment(a)
	back, err := ToDomainCapabilityAssignment(wireVal)
	require.NoError(t, err)
	assert.Equal(t, a, back)
}

func TestInstanceMetadataRoundTrip(t *testing.T) {
	meta := domain.InstanceMetadata{
		InstanceID: "inst-1", NodeID: "node-1", ModuleHash: "abc123", Status: domain.StatusRunning,
	}
	meta.CreatedAt = meta.CreatedAt.Truncate(0) // strips the monotonic clock reading; created_at is not compared below

	wireVal := FromDomainInstanceMetadata(meta)
	back, err := ToDomainInstanceMetadata(wireVal)
	require.NoError(t, err)
	assert.Equal(t, meta.InstanceID, back.InstanceID)
	assert.Equal(t, meta.NodeID, back.NodeID)
	assert.Equal(t, meta.ModuleHash, back.ModuleHash)
	assert.Equal(t, meta.Status, back.Status)
}
