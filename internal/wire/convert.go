package wire

import (
	"fmt"
	"time"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

// ToDomainStatus converts a wire InstanceStatus, rejecting Unspecified and
// any out-of-range value.
func ToDomainStatus(s InstanceStatus) (domain.InstanceStatus, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	switch s {
	case InstanceStatusStarting:
		return domain.StatusStarting, nil
	case InstanceStatusRunning:
		return domain.StatusRunning, nil
	case InstanceStatusStopped:
		return domain.StatusStopped, nil
	case InstanceStatusCrashed:
		return domain.StatusCrashed, nil
	default:
		return 0, fmt.Errorf("invalid instance status: %d", s)
	}
}

// FromDomainStatus converts a domain InstanceStatus to its wire form.
func FromDomainStatus(s domain.InstanceStatus) InstanceStatus {
	switch s {
	case domain.StatusStarting:
		return InstanceStatusStarting
	case domain.StatusRunning:
		return InstanceStatusRunning
	case domain.StatusStopped:
		return InstanceStatusStopped
	case domain.StatusCrashed:
		return InstanceStatusCrashed
	default:
		return InstanceStatusUnspecified
	}
}

// ToDomainProviderType converts a wire ProviderType, rejecting Unspecified.
func ToDomainProviderType(p ProviderType) (domain.ProviderType, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	switch p {
	case ProviderTypeKv:
		return domain.ProviderKv, nil
	case ProviderTypeHttp:
		return domain.ProviderHttp, nil
	case ProviderTypeMessaging:
		return domain.ProviderMessaging, nil
	default:
		return 0, fmt.Errorf("invalid provider type: %d", p)
	}
}

// FromDomainProviderType converts a domain ProviderType to its wire form.
func FromDomainProviderType(p domain.ProviderType) ProviderType {
	switch p {
	case domain.ProviderKv:
		return ProviderTypeKv
	case domain.ProviderHttp:
		return ProviderTypeHttp
	case domain.ProviderMessaging:
		return ProviderTypeMessaging
	default:
		return ProviderTypeUnspecified
	}
}

// ToDomainRestartPolicy converts a wire RestartPolicy, rejecting an
// Unspecified policy type.
func ToDomainRestartPolicy(p RestartPolicy) (domain.RestartPolicy, error) {
	if err := p.PolicyType.Validate(); err != nil {
		return domain.RestartPolicy{}, err
	}
	out := domain.RestartPolicy{MaxRetries: p.MaxRetries, BackoffSeconds: p.BackoffSeconds}
	switch p.PolicyType {
	case RestartPolicyTypeNever:
		out.Type = domain.RestartNever
	case RestartPolicyTypeAlways:
		out.Type = domain.RestartAlways
	case RestartPolicyTypeOnFailure:
		out.Type = domain.RestartOnFailure
	default:
		return domain.RestartPolicy{}, fmt.Errorf("invalid restart policy type: %d", p.PolicyType)
	}
	return out, nil
}

// FromDomainRestartPolicy converts a domain RestartPolicy to its wire form.
func FromDomainRestartPolicy(p domain.RestartPolicy) RestartPolicy {
	out := RestartPolicy{MaxRetries: p.MaxRetries, BackoffSeconds: p.BackoffSeconds}
	switch p.Type {
	case domain.RestartNever:
		out.PolicyType = RestartPolicyTypeNever
	case domain.RestartAlways:
		out.PolicyType = RestartPolicyTypeAlways
	case domain.RestartOnFailure:
		out.PolicyType = RestartPolicyTypeOnFailure
	default:
		out.PolicyType = RestartPolicyTypeUnspecified
	}
	return out
}

// ToDomainCapabilityAssignment converts one wire CapabilityAssignment.
func ToDomainCapabilityAssignment(a CapabilityAssignment) (domain.CapabilityAssignment, error) {
	pt, err := ToDomainProviderType(a.ProviderType)
	if err != nil {
		return domain.CapabilityAssignment{}, err
	}
	return domain.CapabilityAssignment{
		InstanceID:   a.InstanceID,
		CapabilityID: a.CapabilityID,
		ProviderType: pt,
		Permissions:  append([]string(nil), a.Permissions...),
	}, nil
}

// FromDomainCapabilityAssignment converts one domain CapabilityAssignment to
// its wire form.
func FromDomainCapabilityAssignment(a domain.CapabilityAssignment) CapabilityAssignment {
	return CapabilityAssignment{
		InstanceID:   a.InstanceID,
		CapabilityID: a.CapabilityID,
		ProviderType: FromDomainProviderType(a.ProviderType),
		Permissions:  append([]string(nil), a.Permissions...),
	}
}

// ToDomainInstanceMetadata converts wire InstanceMetadata.
func ToDomainInstanceMetadata(m InstanceMetadata) (domain.InstanceMetadata, error) {
	status, err := ToDomainStatus(m.Status)
	if err != nil {
		return domain.InstanceMetadata{}, err
	}
	return domain.InstanceMetadata{
		InstanceID: m.InstanceID,
		NodeID:     m.NodeID,
		ModuleHash: m.ModuleHash,
		CreatedAt:  time.Unix(m.CreatedAt, 0).UTC(),
		Status:     status,
	}, nil
}

// FromDomainInstanceMetadata converts domain InstanceMetadata to its wire
// form.
func FromDomainInstanceMetadata(m domain.InstanceMetadata) InstanceMetadata {
	return InstanceMetadata{
		InstanceID: m.InstanceID,
		NodeID:     m.NodeID,
		ModuleHash: m.ModuleHash,
		CreatedAt:  m.CreatedAt.Unix(),
		Status:     FromDomainStatus(m.Status),
	}
}
