package etcdmirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestNewReturnsNilMirrorWhenDisabled(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestDisabledMirrorNoopsEverywhere(t *testing.T) {
	var m *Mirror
	assert.NoError(t, m.PutNode(context.Background(), "node-1", []byte("x")))
	assert.NoError(t, m.PutProvider(context.Background(), "provider-1", []byte("x")))
	assert.NoError(t, m.Close())
}

// dialedMirror builds a Mirror whose client is non-nil but never completes a
// connection (etcd client dials lazily), which is enough to exercise the key
// discipline check without ever sending a network request.
func dialedMirror(t *testing.T) *Mirror {
	t.Helper()
	client, err := clientv3.New(clientv3.Config{Endpoints: []string{"127.0.0.1:0"}, DialTimeout: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return &Mirror{client: client}
}

func TestPutRejectsKeysOutsideAllowedPrefixes(t *testing.T) {
	m := dialedMirror(t)
	err := m.put(context.Background(), "/wasmatrix/instances/inst-1", []byte("x"))
	assert.Error(t, err, "instance-level state must never be mirrored to etcd")
}

// PutNode/PutProvider always prepend an allowed prefix before calling put,
// so the rejection path above is only reachable through put directly.
