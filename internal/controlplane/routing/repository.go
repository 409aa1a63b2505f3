// Package routing implements the Control Plane's node registry and
// candidate-selection/dispatch layer. Repository owns the
// node records, the instance->node assignment map, and provider metadata,
// each kept disjoint from the instance map.
package routing

import (
	"strings"
	"sync"
	"time"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

// Repository is the Control Plane's routing table: node records,
// instance->node assignment, and provider metadata, each behind one
// readers-writer lock.
type Repository struct {
	mu           sync.RWMutex
	nodes        map[string]*domain.NodeAgentRecord
	instanceNode map[string]string // instance_id -> node_id
	providers    map[string]domain.ProviderMetadata
}

// NewRepository constructs an empty routing repository.
func NewRepository() *Repository {
	return &Repository{
		nodes:        make(map[string]*domain.NodeAgentRecord),
		instanceNode: make(map[string]string),
		providers:    make(map[string]domain.ProviderMetadata),
	}
}

// normalizeAddress prefixes node_address with "http://" when it carries
// neither an http:// nor an https:// scheme.
func normalizeAddress(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// RegisterNode upserts a NodeAgentRecord for nodeID. Re-registration resets
// active_instances to 0; the caller (routing.Service) is responsible for
// recomputing it from the node's actual live instances immediately after.
func (r *Repository) RegisterNode(nodeID, address string, capabilities []string, maxInstances uint32) domain.NodeAgentRecord {
	capSet := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = struct{}{}
	}
	rec := &domain.NodeAgentRecord{
		NodeID:          nodeID,
		NodeAddress:     normalizeAddress(address),
		Capabilities:    capSet,
		MaxInstances:    maxInstances,
		ActiveInstances: 0,
		LastHeartbeat:   time.Now(),
		Available:       true,
	}
	r.mu.Lock()
	r.nodes[nodeID] = rec
	r.mu.Unlock()
	return *rec
}

// Get returns a copy of nodeID's record.
func (r *Repository) Get(nodeID string) (domain.NodeAgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		return domain.NodeAgentRecord{}, false
	}
	return *rec, true
}

// All returns a copy of every node record, for candidate selection and
// fan-out list operations.
func (r *Repository) All() []domain.NodeAgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.NodeAgentRecord, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, *rec)
	}
	return out
}

// SetAvailable flips nodeID's availability flag, used for liveness downgrade
// on transport failure and for heartbeat-driven recovery.
func (r *Repository) SetAvailable(nodeID string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok {
		rec.Available = available
	}
}

// UpdateHeartbeat records a fresh heartbeat timestamp and marks the node
// available.
func (r *Repository) UpdateHeartbeat(nodeID string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok {
		rec.LastHeartbeat = ts
		rec.Available = true
	}
}

// SetHostStats records the most recent best-effort CPU/memory sample.
func (r *Repository) SetHostStats(nodeID string, cpuPercent float64, memUsed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok {
		rec.LastCPUPercent = cpuPercent
		rec.LastMemUsedBytes = memUsed
	}
}

// SetActiveInstances overwrites nodeID's active_instances count, used after
// state recovery to reflect the node's actual Starting/Running instances.
func (r *Repository) SetActiveInstances(nodeID string, count uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok {
		rec.ActiveInstances = count
	}
}

// IncrementActive bumps nodeID's active_instances by one.
func (r *Repository) IncrementActive(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok {
		rec.ActiveInstances++
	}
}

// DecrementActive decreases nodeID's active_instances by one, saturating at
// zero.
func (r *Repository) DecrementActive(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.nodes[nodeID]; ok && rec.ActiveInstances > 0 {
		rec.ActiveInstances--
	}
}

// AssignInstance records instance_id -> node_id.
func (r *Repository) AssignInstance(instanceID, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instanceNode[instanceID] = nodeID
}

// UnassignInstance removes instance_id's node assignment.
func (r *Repository) UnassignInstance(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instanceNode, instanceID)
}

// NodeForInstance returns the node_id instance_id is assigned to, if any.
func (r *Repository) NodeForInstance(instanceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodeID, ok := r.instanceNode[instanceID]
	return nodeID, ok
}

// RegisterProvider upserts provider metadata, keyed by provider_id in its
// own map, separate from the instanceNode map keyed by instance_id, so a
// provider id never collides with an instance id.
func (r *Repository) RegisterProvider(providerID string, providerType domain.ProviderType, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[providerID] = domain.ProviderMetadata{
		ProviderID:   providerID,
		ProviderType: providerType,
		NodeID:       nodeID,
		LastUpdated:  time.Now(),
	}
}

// ProviderMeta returns providerID's metadata, if known.
func (r *Repository) ProviderMeta(providerID string) (domain.ProviderMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.providers[providerID]
	return meta, ok
}

// ErrNoNodeForInstance is returned by callers that need a typed sentinel for
// "instance has no routing-table entry" distinct from wasmerr's envelope.
var ErrNoNodeForInstance = wasmerr.New(wasmerr.InstanceNotFound, "no node assigned to instance")
