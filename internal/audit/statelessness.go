package audit

import (
	"time"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

// allowedMetadataFields are the only fields a store may persist per
// instance. Anything else is application state, which instances must
// externalize through capability providers instead.
var allowedMetadataFields = map[string]struct{}{
	"instance_id": {},
	"node_id":     {},
	"module_hash": {},
	"created_at":  {},
	"status":      {},
}

// StateAudit records which fields a storage layer persisted for one
// instance, so a test or an operator can check the store against the
// minimal-metadata rule.
type StateAudit struct {
	InstanceID     string
	StoredFields   []string
	ExcludedFields []string
	Timestamp      time.Time
}

// NewStateAudit starts an empty audit for instanceID.
func NewStateAudit(instanceID string) StateAudit {
	return StateAudit{InstanceID: instanceID, Timestamp: time.Now()}
}

// VerifyMinimalStorage rejects the audit if any stored field lies outside
// the allowed metadata set.
func (a StateAudit) VerifyMinimalStorage() error {
	for _, field := range a.StoredFields {
		if _, ok := allowedMetadataFields[field]; !ok {
			return wasmerr.New(wasmerr.ValidationError, "field must not be persisted as instance state").
				WithDetails("field", field).WithDetails("instance_id", a.InstanceID)
		}
	}
	return nil
}

// VerifyInstanceMetadata checks that metadata carries only system-level
// fields with a status from the closed set.
func VerifyInstanceMetadata(meta domain.InstanceMetadata) error {
	switch meta.Status {
	case domain.StatusStarting, domain.StatusRunning, domain.StatusStopped, domain.StatusCrashed:
		return nil
	default:
		return wasmerr.New(wasmerr.ValidationError, "invalid instance status in metadata").
			WithDetails("instance_id", meta.InstanceID)
	}
}

// VerifyCapabilityAssignments checks that every assignment carries complete
// capability metadata and nothing else: non-empty instance and capability
// ids, and a non-empty permission set.
func VerifyCapabilityAssignments(assignments []domain.CapabilityAssignment) error {
	for _, a := range assignments {
		if a.InstanceID == "" {
			return wasmerr.New(wasmerr.ValidationError, "empty instance_id in assignment")
		}
		if a.CapabilityID == "" {
			return wasmerr.New(wasmerr.ValidationError, "empty capability_id in assignment")
		}
		if len(a.Permissions) == 0 {
			return wasmerr.New(wasmerr.ValidationError, "empty permissions in assignment").
				WithDetails("capability_id", a.CapabilityID)
		}
	}
	return nil
}

// VerifyRestartStateCleared checks a new-module restart against the
// stateless contract: the replacement instance must get a fresh identifier
// and a newer created_at, never carrying either forward from the old
// instance. A crash-recovery restart of the same identifier is a different
// operation and is not checked here.
func VerifyRestartStateCleared(old *domain.InstanceMetadata, replacement domain.InstanceMetadata) error {
	if old == nil {
		return nil
	}
	if old.InstanceID == replacement.InstanceID {
		return wasmerr.New(wasmerr.ValidationError, "instance retains same id after restart").
			WithDetails("instance_id", old.InstanceID)
	}
	if !replacement.CreatedAt.After(old.CreatedAt) {
		return wasmerr.New(wasmerr.ValidationError, "instance creation time not updated after restart").
			WithDetails("instance_id", replacement.InstanceID)
	}
	return nil
}
