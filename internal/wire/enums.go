// Package wire defines the Control Plane <-> Node Agent wire contract:
// request/response messages, the closed enums that ride on the wire, and
// conversions to/from the internal domain types used by the rest of the
// system. Every enum reserves index 0 for Unspecified and rejects it on
// receipt.
package wire

import "fmt"

// InstanceStatus is the wire-level instance status enum.
type InstanceStatus int32

const (
	InstanceStatusUnspecified InstanceStatus = 0
	InstanceStatusStarting    InstanceStatus = 1
	InstanceStatusRunning     InstanceStatus = 2
	InstanceStatusStopped     InstanceStatus = 3
	InstanceStatusCrashed     InstanceStatus = 4
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceStatusStarting:
		return "Starting"
	case InstanceStatusRunning:
		return "Running"
	case InstanceStatusStopped:
		return "Stopped"
	case InstanceStatusCrashed:
		return "Crashed"
	default:
		return "Unspecified"
	}
}

// Validate rejects InstanceStatusUnspecified and any value outside the
// closed set.
func (s InstanceStatus) Validate() error {
	switch s {
	case InstanceStatusStarting, InstanceStatusRunning, InstanceStatusStopped, InstanceStatusCrashed:
		return nil
	default:
		return fmt.Errorf("invalid instance status: %d", s)
	}
}

// ProviderType is the wire-level capability provider type enum.
type ProviderType int32

const (
	ProviderTypeUnspecified ProviderType = 0
	ProviderTypeKv          ProviderType = 1
	ProviderTypeHttp        ProviderType = 2
	ProviderTypeMessaging   ProviderType = 3
)

func (p ProviderType) String() string {
	switch p {
	case ProviderTypeKv:
		return "kv"
	case ProviderTypeHttp:
		return "http"
	case ProviderTypeMessaging:
		return "messaging"
	default:
		return "unspecified"
	}
}

// Validate rejects ProviderTypeUnspecified and any value outside the closed
// set.
func (p ProviderType) Validate() error {
	switch p {
	case ProviderTypeKv, ProviderTypeHttp, ProviderTypeMessaging:
		return nil
	default:
		return fmt.Errorf("invalid provider type: %d", p)
	}
}

// RestartPolicyType is the wire-level restart policy tag.
type RestartPolicyType int32

const (
	RestartPolicyTypeUnspecified RestartPolicyType = 0
	RestartPolicyTypeNever       RestartPolicyType = 1
	RestartPolicyTypeAlways      RestartPolicyType = 2
	RestartPolicyTypeOnFailure   RestartPolicyType = 3
)

func (t RestartPolicyType) String() string {
	switch t {
	case RestartPolicyTypeNever:
		return "Never"
	case RestartPolicyTypeAlways:
		return "Always"
	case RestartPolicyTypeOnFailure:
		return "OnFailure"
	default:
		return "Unspecified"
	}
}

// Validate rejects RestartPolicyTypeUnspecified and any value outside the
// closed set.
func (t RestartPolicyType) Validate() error {
	switch t {
	case RestartPolicyTypeNever, RestartPolicyTypeAlways, RestartPolicyTypeOnFailure:
		return nil
	default:
		return fmt.Errorf("invalid restart policy type: %d", t)
	}
}
