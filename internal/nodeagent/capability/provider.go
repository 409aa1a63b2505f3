package capability

import (
	"sync"

	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

// ProviderLifecycle is the small Running|Stopped state machine per
// provider_id, kept separate from Registry's
// provider-type-declaration map.
type ProviderLifecycle struct {
	mu      sync.RWMutex
	running map[string]bool // provider_id -> running
}

// NewProviderLifecycle constructs an empty lifecycle registry.
func NewProviderLifecycle() *ProviderLifecycle {
	return &ProviderLifecycle{running: make(map[string]bool)}
}

// SetRunning explicitly marks providerID's lifecycle state.
func (p *ProviderLifecycle) SetRunning(providerID string, running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[providerID] = running
}

// EnsureAvailable returns nil if providerID is Running. An unknown
// provider_id is lazily auto-registered as Running on first sighting
//. A Stopped provider surfaces as FailedPrecondition, a
// retriable condition distinct from a permission denial.
func (p *ProviderLifecycle) EnsureAvailable(providerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	running, known := p.running[providerID]
	if !known {
		p.running[providerID] = true
		return nil
	}
	if !running {
		return wasmerr.New(wasmerr.FailedPrecondition, "provider is stopped").WithDetails("provider_id", providerID)
	}
	return nil
}
