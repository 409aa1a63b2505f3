package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

func TestEnforcerAuthorize(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Assign(domain.CapabilityAssignment{
		InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderKv,
		Permissions: []string{"kv:read"},
	}))
	e := NewEnforcer(r, 0, 0, nil)

	t.Run("no assignment denies", func(t *testing.T) {
		err := e.Authorize(Invocation{InstanceID: "inst-2", CapabilityID: "cap-1", ProviderType: domain.ProviderKv, Operation: "get"})
		assert.Error(t, err)
	})

	t.Run("held permission allows", func(t *testing.T) {
		err := e.Authorize(Invocation{InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderKv, Operation: "get"})
		assert.NoError(t, err)
	})

	t.Run("missing permission for write denies", func(t *testing.T) {
		err := e.Authorize(Invocation{InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderKv, Operation: "set"})
		assert.Error(t, err)
	})

	t.Run("unknown operation is invalid, not a permission denial", func(t *testing.T) {
		err := e.Authorize(Invocation{InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderKv, Operation: "frobnicate"})
		require.Error(t, err)
		assert.Equal(t, wasmerr.ValidationError, wasmerr.CodeOf(err))
	})
}

func TestEnforcerHostScoping(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Assign(domain.CapabilityAssignment{
		InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderHttp,
		Permissions: []string{"http:request", "http:domain:example.com"},
	}))
	e := NewEnforcer(r, 0, 0, nil)

	t.Run("scoped host matches", func(t *testing.T) {
		err := e.Authorize(Invocation{InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderHttp, Operation: "request", Host: "example.com"})
		assert.NoError(t, err)
	})

	t.Run("unscoped host rejected once a scope is declared", func(t *testing.T) {
		err := e.Authorize(Invocation{InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderHttp, Operation: "request", Host: "other.com"})
		assert.Error(t, err)
	})
}

func TestEnforcerMessagingTopicScope(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Assign(domain.CapabilityAssignment{
		InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderMessaging,
		Permissions: []string{"msg:publish", "msg:publish:orders"},
	}))
	e := NewEnforcer(r, 0, 0, nil)

	require.NoError(t, e.Authorize(Invocation{InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderMessaging, Operation: "publish", Topic: "orders"}))
}

func TestEnforcerRateLimit(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Assign(domain.CapabilityAssignment{
		InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderKv,
		Permissions: []string{"kv:read"},
	}))
	e := NewEnforcer(r, 1, 1, nil)

	inv := Invocation{InstanceID: "inst-1", CapabilityID: "cap-1", ProviderType: domain.ProviderKv, Operation: "get"}
	require.NoError(t, e.Authorize(inv))
	err := e.Authorize(inv)
	assert.Error(t, err, "second invocation within the same instant should exceed the burst of 1")
}

func TestHostFromURL(t *testing.T) {
	host, err := HostFromURL("https://example.com/path")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
}
