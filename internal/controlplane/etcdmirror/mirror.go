// Package etcdmirror mirrors a narrow slice of Control Plane routing state
// to the optional external etcd metadata store (USE_ETCD/ETCD_ENDPOINTS).
// Only node records and provider metadata are ever written; instance-level
// state must never reach etcd.
package etcdmirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

const (
	nodesPrefix     = "/wasmatrix/nodes/"
	providersPrefix = "/wasmatrix/providers/"
	dialTimeout     = 5 * time.Second
)

// Mirror wraps an etcd client restricted to the two allowed key prefixes.
type Mirror struct {
	client *clientv3.Client
}

// Config carries the USE_ETCD/ETCD_ENDPOINTS/ETCD_USERNAME/ETCD_PASSWORD
// environment surface.
type Config struct {
	Endpoints []string
	Username  string
	Password  string
}

// New dials etcd using cfg. Returns (nil, nil) when cfg has no endpoints so
// callers can treat a disabled mirror as a no-op without a nil check at
// every call site: every method on a nil *Mirror does nothing.
func New(cfg Config) (*Mirror, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, nil
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, wasmerr.Wrap(wasmerr.StorageError, "etcd client dial failed", err)
	}
	return &Mirror{client: client}, nil
}

// Close releases the underlying etcd client connection.
func (m *Mirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// PutNode mirrors one node record under /wasmatrix/nodes/<node_id>.
func (m *Mirror) PutNode(ctx context.Context, nodeID string, value []byte) error {
	return m.put(ctx, nodesPrefix+nodeID, value)
}

// PutProvider mirrors one provider metadata record under
// /wasmatrix/providers/<provider_id>.
func (m *Mirror) PutProvider(ctx context.Context, providerID string, value []byte) error {
	return m.put(ctx, providersPrefix+providerID, value)
}

// put enforces the key-discipline invariant before ever touching the
// client: any key outside the two allowed prefixes is rejected, not written.
func (m *Mirror) put(ctx context.Context, key string, value []byte) error {
	if m == nil || m.client == nil {
		return nil
	}
	if !strings.HasPrefix(key, nodesPrefix) && !strings.HasPrefix(key, providersPrefix) {
		return wasmerr.New(wasmerr.InvalidRequest, "etcd key outside allowed prefixes").WithDetails("key", key)
	}
	if _, err := m.client.Put(ctx, key, string(value)); err != nil {
		return wasmerr.Wrap(wasmerr.StorageError, fmt.Sprintf("etcd put failed for key %s", key), err)
	}
	return nil
}
