// Package provider defines the capability providers (Kv, Http, Messaging)
// as opaque collaborators. The Node Agent depends only on the Invoker
// interface below, never on a concrete KV store, HTTP client, or pub/sub
// broker. NoopInvoker is a deterministic stand-in, the provider-side
// analogue of engine.InMemoryEngine.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

// Request is the already-authorized capability invocation handed to a
// provider after the enforcer in internal/nodeagent/capability has approved
// it.
type Request struct {
	InstanceID   string
	CapabilityID string
	ProviderType domain.ProviderType
	Operation    string
	ParamsJSON   string
}

// Invoker performs the actual provider-specific effect. Real deployments
// wire a KV store client, an outbound HTTP client, or a pub/sub client here;
// this package never implements any of the three.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (resultJSON string, err error)
}

// NoopInvoker is a deterministic stand-in used by tests and by deployments
// that have not yet wired a real provider backend: it echoes the request
// back as its result, performing no actual I/O.
type NoopInvoker struct{}

var _ Invoker = NoopInvoker{}

// Invoke always succeeds and echoes req as JSON.
func (NoopInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]any{
		"provider_type": req.ProviderType.String(),
		"operation":     req.Operation,
		"echo":          req.ParamsJSON,
	})
	if err != nil {
		return "", fmt.Errorf("provider: marshal echo result: %w", err)
	}
	return string(out), nil
}

// Dispatcher routes a Request to the Invoker registered for its provider
// type. Providers absent from the map fall back to NoopInvoker so an
// unconfigured deployment still produces a deterministic result rather than
// a nil-pointer panic.
type Dispatcher struct {
	invokers map[domain.ProviderType]Invoker
	fallback Invoker
}

// NewDispatcher builds a Dispatcher. Pass nil to use NoopInvoker for every
// provider type.
func NewDispatcher(invokers map[domain.ProviderType]Invoker) *Dispatcher {
	return &Dispatcher{invokers: invokers, fallback: NoopInvoker{}}
}

// Invoke dispatches req to the configured Invoker for req.ProviderType.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (string, error) {
	if inv, ok := d.invokers[req.ProviderType]; ok && inv != nil {
		return inv.Invoke(ctx, req)
	}
	return d.fallback.Invoke(ctx, req)
}
