// Package audit implements the orchestrator's isolation and statelessness
// guarantees as checkable policies: capability scoping between instances,
// sandbox boundary tracking, and the minimal-metadata and
// restart-state-cleared rules for stateless instances. The checks here never
// mutate orchestration state; they verify invariants the runtime is expected
// to uphold, and the test suite exercises them against representative
// scenarios.
package audit

import (
	"sync"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

// SharedAssignments reports whether two instances hold an identical
// (capability_id, permissions) pair. Sharing a capability id alone is fine;
// sharing the id with the exact same permission set means the two instances
// are indistinguishable to the provider, which defeats per-instance scoping.
func SharedAssignments(a, b []domain.CapabilityAssignment) bool {
	for _, ca := range a {
		for _, cb := range b {
			if ca.CapabilityID == cb.CapabilityID && equalPermissions(ca.Permissions, cb.Permissions) {
				return true
			}
		}
	}
	return false
}

func equalPermissions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ProviderScoped reports whether every assignment held for instanceID is
// actually scoped to it. An assignment carrying a different instance_id in
// that instance's list is a scoping violation.
func ProviderScoped(instanceID string, assignments []domain.CapabilityAssignment) bool {
	for _, a := range assignments {
		if a.InstanceID != instanceID {
			return false
		}
	}
	return true
}

// Sandbox tracks per-instance boundaries: each registered instance gets its
// own capability list and its own memory region marker. The Wasm engine
// enforces the actual memory isolation; the sandbox verifies the
// orchestrator's bookkeeping never crosses instances.
type Sandbox struct {
	mu           sync.RWMutex
	memory       map[string][]byte
	capabilities map[string][]domain.CapabilityAssignment
}

// NewSandbox constructs an empty sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{
		memory:       make(map[string][]byte),
		capabilities: make(map[string][]domain.CapabilityAssignment),
	}
}

// Register records instanceID with its scoped capabilities. Registering an
// already-known id overwrites its entry.
func (s *Sandbox) Register(instanceID string, capabilities []domain.CapabilityAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[instanceID] = nil
	s.capabilities[instanceID] = append([]domain.CapabilityAssignment(nil), capabilities...)
}

// Unregister drops all sandbox data for instanceID. Unregistering an
// unknown id is a no-op.
func (s *Sandbox) Unregister(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, instanceID)
	delete(s.capabilities, instanceID)
}

// CanAccessCapability reports whether instanceID may use capabilityID: the
// capability must be in the instance's own list and scoped to it. An
// instance can never reach a capability registered to another instance.
func (s *Sandbox) CanAccessCapability(instanceID, capabilityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.capabilities[instanceID] {
		if c.CapabilityID == capabilityID {
			return c.InstanceID == instanceID
		}
	}
	return false
}

// Capabilities returns the assignments registered for instanceID.
func (s *Sandbox) Capabilities(instanceID string) ([]domain.CapabilityAssignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caps, ok := s.capabilities[instanceID]
	if !ok {
		return nil, false
	}
	out := make([]domain.CapabilityAssignment, len(caps))
	copy(out, caps)
	return out, true
}

// Registered reports whether instanceID is present in the sandbox.
func (s *Sandbox) Registered(instanceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.memory[instanceID]
	return ok
}

// Count returns the number of registered instances.
func (s *Sandbox) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memory)
}
