// Package domain holds the internal (non-wire) data model shared by the
// Node Agent and Control Plane: instance status, restart policy, capability
// assignment, and execution events. These types never carry an Unspecified
// zero value — that concept exists only at the wire boundary (see
// internal/wire).
package domain

import "time"

// InstanceStatus is the internal, already-validated instance status.
type InstanceStatus int

const (
	StatusStarting InstanceStatus = iota + 1
	StatusRunning
	StatusStopped
	StatusCrashed
)

func (s InstanceStatus) String() string {
	switch s {
	case StatusStarting:
		return "Starting"
	case StatusRunning:
		return "Running"
	case StatusStopped:
		return "Stopped"
	case StatusCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// ProviderType is the internal capability provider type.
type ProviderType int

const (
	ProviderKv ProviderType = iota + 1
	ProviderHttp
	ProviderMessaging
)

func (p ProviderType) String() string {
	switch p {
	case ProviderKv:
		return "kv"
	case ProviderHttp:
		return "http"
	case ProviderMessaging:
		return "messaging"
	default:
		return "unknown"
	}
}

// RestartPolicyType tags the RestartPolicy variant.
type RestartPolicyType int

const (
	RestartNever RestartPolicyType = iota + 1
	RestartAlways
	RestartOnFailure
)

// RestartPolicy is the tagged variant Never | Always | OnFailure{...}.
// MaxRetries/BackoffSeconds are only meaningful when Type == RestartOnFailure
// and are nil when the policy does not specify them.
type RestartPolicy struct {
	Type           RestartPolicyType
	MaxRetries     *uint32
	BackoffSeconds *uint64
}

// DefaultRestartPolicy is "Never".
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{Type: RestartNever}
}

// CapabilityAssignment binds a capability id + permission set to an
// instance for one provider type.
type CapabilityAssignment struct {
	InstanceID   string
	CapabilityID string
	ProviderType ProviderType
	Permissions  []string
}

// CrashInfo is the per-instance crash history, independent of the
// "is it crashed right now" marker.
type CrashInfo struct {
	CrashCount    uint32
	LastCrashTime *time.Time
}

// ExecutionEventType enumerates the lifecycle event kinds appended to the
// per-instance event log.
type ExecutionEventType string

const (
	EventInstanceStarted   ExecutionEventType = "instance_started"
	EventInstanceStopped   ExecutionEventType = "instance_stopped"
	EventInstanceCrashed   ExecutionEventType = "instance_crashed"
	EventInstanceRestarted ExecutionEventType = "instance_restarted"
)

// ExecutionEvent is one append-only entry in an instance's lifecycle log.
type ExecutionEvent struct {
	EventType  ExecutionEventType
	InstanceID string
	Timestamp  time.Time
	Details    map[string]string
}

// InstanceMetadata is the Control Plane's view of one instance.
type InstanceMetadata struct {
	InstanceID string
	NodeID     string
	ModuleHash string
	CreatedAt  time.Time
	Status     InstanceStatus
}

// NodeAgentRecord is one entry in the Control Plane routing table.
type NodeAgentRecord struct {
	NodeID           string
	NodeAddress      string
	Capabilities     map[string]struct{} // provider-tag set: "kv" | "http" | "messaging"
	MaxInstances     uint32
	ActiveInstances  uint32
	LastHeartbeat    time.Time
	Available        bool
	LastCPUPercent   float64
	LastMemUsedBytes uint64
}

// ProviderMetadata tracks a known capability provider, kept disjoint from
// the instance map.
type ProviderMetadata struct {
	ProviderID   string
	ProviderType ProviderType
	NodeID       string
	LastUpdated  time.Time
}
