// Package state implements the Control Plane's authoritative instance
// store: instance metadata, capability bindings, crash markers, and the
// execution-event log, each guarded by one readers-writer lock. The store never issues RPCs; routing.Service composes it with
// the routing repository and the Node Agent transport.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
	"github.com/mo3789530/wasmatrix/internal/wire"
)

// Store owns instance_id -> InstanceMetadata, instance_id -> capability
// bindings, instance_id -> crash marker, and the event log.
type Store struct {
	mu           sync.RWMutex
	metadata     map[string]domain.InstanceMetadata
	capabilities map[string][]domain.CapabilityAssignment
	crashMarkers map[string]struct{}
	events       []domain.ExecutionEvent
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		metadata:     make(map[string]domain.InstanceMetadata),
		capabilities: make(map[string][]domain.CapabilityAssignment),
		crashMarkers: make(map[string]struct{}),
	}
}

// StartInstance validates module_bytes (Wasm-magic rule plus the 10 MiB cap,
// which only the Control Plane enforces), creates a Starting
// metadata entry with a freshly generated instance_id, stores capability
// bindings if non-empty, and returns the new id. This is the Control Plane's
// own direct instance-creation path, independent of routing dispatch: the
// metadata store alone never issues RPCs.
func (s *Store) StartInstance(moduleBytes []byte, capabilities []domain.CapabilityAssignment) (string, error) {
	if err := wire.ValidateModuleBytes(moduleBytes, true); err != nil {
		return "", err
	}
	instanceID := uuid.NewString()
	meta := domain.InstanceMetadata{
		InstanceID: instanceID,
		ModuleHash: wire.ModuleHash(moduleBytes),
		CreatedAt:  time.Now(),
		Status:     domain.StatusStarting,
	}

	s.mu.Lock()
	s.metadata[instanceID] = meta
	if len(capabilities) > 0 {
		s.capabilities[instanceID] = append([]domain.CapabilityAssignment(nil), capabilities...)
	}
	s.mu.Unlock()
	return instanceID, nil
}

// StopInstance sets instanceID's status to Stopped. This direct path exists
// for tests; the routing-layer stop (which forwards to the owning Node
// Agent) is the authoritative one when the two might otherwise race.
func (s *Store) StopInstance(instanceID string) error {
	if instanceID == "" {
		return wasmerr.New(wasmerr.InvalidRequest, "instance_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metadata[instanceID]
	if !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	meta.Status = domain.StatusStopped
	s.metadata[instanceID] = meta
	return nil
}

// QueryInstance returns instanceID's metadata view.
func (s *Store) QueryInstance(instanceID string) (domain.InstanceMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.metadata[instanceID]
	if !ok {
		return domain.InstanceMetadata{}, wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	return meta, nil
}

// AssignCapability validates non-empty fields and appends assignment to
// instance_id's binding list. InstanceNotFound if the instance is unknown.
func (s *Store) AssignCapability(a domain.CapabilityAssignment) error {
	if a.InstanceID == "" || a.CapabilityID == "" {
		return wasmerr.New(wasmerr.InvalidRequest, "instance_id and capability_id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metadata[a.InstanceID]; !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", a.InstanceID)
	}
	s.capabilities[a.InstanceID] = append(s.capabilities[a.InstanceID], a)
	return nil
}

// RevokeCapability removes capabilityID from instanceID's binding list.
func (s *Store) RevokeCapability(instanceID, capabilityID string) error {
	if instanceID == "" || capabilityID == "" {
		return wasmerr.New(wasmerr.InvalidRequest, "instance_id and capability_id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metadata[instanceID]; !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	list := s.capabilities[instanceID]
	kept := list[:0:0]
	for _, a := range list {
		if a.CapabilityID != capabilityID {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(s.capabilities, instanceID)
	} else {
		s.capabilities[instanceID] = kept
	}
	return nil
}

// Capabilities returns a copy of instanceID's current bindings.
func (s *Store) Capabilities(instanceID string) []domain.CapabilityAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.capabilities[instanceID]
	out := make([]domain.CapabilityAssignment, len(list))
	copy(out, list)
	return out
}

// RecordInstanceCrash validates existence, appends instance_crashed, inserts
// the crash marker, and sets status to Crashed.
func (s *Store) RecordInstanceCrash(instanceID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metadata[instanceID]
	if !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	s.events = append(s.events, domain.ExecutionEvent{
		EventType:  domain.EventInstanceCrashed,
		InstanceID: instanceID,
		Timestamp:  time.Now(),
		Details:    map[string]string{"error": errorMessage},
	})
	s.crashMarkers[instanceID] = struct{}{}
	meta.Status = domain.StatusCrashed
	s.metadata[instanceID] = meta
	return nil
}

// HandleCrashRecovery validates existence, clears the crash marker, appends
// instance_restarted, and sets status back to Starting. Capability bindings
// are untouched — this is the "system-level state preserved" invariant.
func (s *Store) HandleCrashRecovery(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metadata[instanceID]
	if !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	delete(s.crashMarkers, instanceID)
	s.events = append(s.events, domain.ExecutionEvent{
		EventType:  domain.EventInstanceRestarted,
		InstanceID: instanceID,
		Timestamp:  time.Now(),
	})
	meta.Status = domain.StatusStarting
	s.metadata[instanceID] = meta
	return nil
}

// RestoreInstanceState overwrites instanceID's metadata entry (used both for
// the composed routing-dispatch create path and for state recovery on node
// re-registration). If capabilities is empty, any prior
// binding for that id is cleared — capability bindings are not recoverable
// from the node and remain re-assertable by the external caller.
func (s *Store) RestoreInstanceState(metadata domain.InstanceMetadata, capabilities []domain.CapabilityAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[metadata.InstanceID] = metadata
	if len(capabilities) == 0 {
		delete(s.capabilities, metadata.InstanceID)
		return
	}
	s.capabilities[metadata.InstanceID] = append([]domain.CapabilityAssignment(nil), capabilities...)
}

// UpdateInstanceStatus applies one heartbeat-reported status change. Unknown
// instance ids are reported back to the caller so the routing layer can log
// and skip them without failing the whole StatusReport.
func (s *Store) UpdateInstanceStatus(instanceID string, status domain.InstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metadata[instanceID]
	if !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	meta.Status = status
	s.metadata[instanceID] = meta
	return nil
}

// GetCrashInfo returns a synthetic {crash_count: 1, last_crash_time: now}
// whenever a crash marker exists, regardless of the true crash count. The
// Node Agent's CrashTracker is the authority on crash history; the Control
// Plane only tracks the marker.
func (s *Store) GetCrashInfo(instanceID string) domain.CrashInfo {
	s.mu.RLock()
	_, crashed := s.crashMarkers[instanceID]
	s.mu.RUnlock()
	if !crashed {
		return domain.CrashInfo{}
	}
	now := time.Now()
	return domain.CrashInfo{CrashCount: 1, LastCrashTime: &now}
}

// Events returns every recorded event for instanceID, in insertion order.
func (s *Store) Events(instanceID string) []domain.ExecutionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExecutionEvent
	for _, e := range s.events {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out
}

// AllInstances returns every known InstanceMetadata, for ListInstances
// fallbacks and administrative inspection.
func (s *Store) AllInstances() []domain.InstanceMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InstanceMetadata, 0, len(s.metadata))
	for _, m := range s.metadata {
		out = append(out, m)
	}
	return out
}
