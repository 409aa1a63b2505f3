// Package engine defines the Wasm execution engine as an opaque
// collaborator: the Node Agent depends only on this interface, never on a
// concrete Wasm runtime. A production deployment wires a real engine
// (wazero, wasmtime-go, ...); InMemoryEngine below is a deterministic stand-in
// suitable for tests and for environments where no native runtime is linked.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/mo3789530/wasmatrix/internal/wire"
)

// CompiledModule is an opaque handle to a compiled Wasm module.
type CompiledModule interface {
	// ModuleHash is the content digest of the module bytes.
	ModuleHash() string
}

// RuntimeStore is an opaque handle to one instantiation's runtime store.
type RuntimeStore interface {
	// Close releases any resources held by the store.
	Close() error
}

// Engine compiles and instantiates Wasm modules. Every method may block and
// must accept ctx cancellation the way the rest of the system's blocking
// operations do.
type Engine interface {
	Compile(ctx context.Context, moduleBytes []byte) (CompiledModule, error)
	Instantiate(ctx context.Context, module CompiledModule) (RuntimeStore, error)
}

// InMemoryEngine is a process-singleton stand-in engine: it validates the
// Wasm header, records a content digest, and instantiates a no-op store. It
// never executes any Wasm code — actual execution is the opaque concern
// this package deliberately does not implement.
type InMemoryEngine struct {
	mu       sync.Mutex
	compiled int
}

var _ Engine = (*InMemoryEngine)(nil)

// NewInMemoryEngine constructs the default stand-in engine.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{}
}

type inMemoryModule struct {
	hash string
}

func (m *inMemoryModule) ModuleHash() string { return m.hash }

type inMemoryStore struct{}

func (s *inMemoryStore) Close() error { return nil }

// Compile validates moduleBytes and computes its content digest. The outer
// lock in the instance manager may be released around this call;
// InMemoryEngine's own lock only protects its internal counter and is
// held for a negligible duration.
func (e *InMemoryEngine) Compile(ctx context.Context, moduleBytes []byte) (CompiledModule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := wire.ValidateModuleBytes(moduleBytes, false); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.compiled++
	e.mu.Unlock()
	return &inMemoryModule{hash: wire.ModuleHash(moduleBytes)}, nil
}

// Instantiate always succeeds for InMemoryEngine's stand-in module.
func (e *InMemoryEngine) Instantiate(ctx context.Context, module CompiledModule) (RuntimeStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if module == nil {
		return nil, fmt.Errorf("engine: nil compiled module")
	}
	return &inMemoryStore{}, nil
}
