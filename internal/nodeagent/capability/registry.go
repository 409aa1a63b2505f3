// Package capability implements the per-instance capability permission
// model: assignment storage, the provider-type permission grammar, runtime
// enforcement, and the per-provider lifecycle registry.
package capability

import (
	"strings"
	"sync"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

// The closed permission vocabularies per provider type. Scoped permissions (http:domain:<host>,
// msg:publish:<topic>, msg:subscribe:<topic>) are validated by prefix; any
// suffix is syntactically valid.
var (
	kvPermissions = map[string]struct{}{
		"kv:read":   {},
		"kv:write":  {},
		"kv:delete": {},
	}
	httpBasePermissions = map[string]struct{}{
		"http:request": {},
	}
	messagingBasePermissions = map[string]struct{}{
		"msg:publish":   {},
		"msg:subscribe": {},
	}
)

const (
	httpDomainPrefix        = "http:domain:"
	msgPublishScopePrefix   = "msg:publish:"
	msgSubscribeScopePrefix = "msg:subscribe:"
)

// Registry owns the instance_id -> assignment list map and the known-provider
// registration map, both behind one readers-writer lock.
type Registry struct {
	mu          sync.RWMutex
	assignments map[string][]domain.CapabilityAssignment
	providers   map[string]domain.ProviderType // provider_id -> declared type
}

// NewRegistry constructs an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		assignments: make(map[string][]domain.CapabilityAssignment),
		providers:   make(map[string]domain.ProviderType),
	}
}

// RegisterProvider declares provider_id's type, used to cross-check future
// assignments referencing it by capability id convention (the capability id
// is free-form; provider registration is a separate, explicit act).
func (r *Registry) RegisterProvider(providerID string, providerType domain.ProviderType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[providerID] = providerType
}

// ProviderType returns the declared type for providerID, if known.
func (r *Registry) ProviderType(providerID string) (domain.ProviderType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.providers[providerID]
	return t, ok
}

// Assign validates and stores one CapabilityAssignment, appending it to
// instance_id's list. Validation failure means the assignment is not stored.
func (r *Registry) Assign(a domain.CapabilityAssignment) error {
	if a.InstanceID == "" {
		return wasmerr.New(wasmerr.InvalidRequest, "instance_id is required")
	}
	if a.CapabilityID == "" {
		return wasmerr.New(wasmerr.InvalidRequest, "capability_id is required")
	}
	if err := validatePermissions(a.ProviderType, a.Permissions); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if declared, ok := r.providers[a.CapabilityID]; ok && declared != a.ProviderType {
		return wasmerr.New(wasmerr.ValidationError, "provider_type does not match registered provider").
			WithDetails("capability_id", a.CapabilityID)
	}
	r.assignments[a.InstanceID] = append(r.assignments[a.InstanceID], a)
	return nil
}

// validatePermissions checks every permission string against providerType's
// grammar.
func validatePermissions(providerType domain.ProviderType, permissions []string) error {
	for _, p := range permissions {
		if !permissionValid(providerType, p) {
			return wasmerr.New(wasmerr.ValidationError, "permission not valid for provider type").
				WithDetails("permission", p).WithDetails("provider_type", providerType.String())
		}
	}
	return nil
}

func permissionValid(providerType domain.ProviderType, p string) bool {
	switch providerType {
	case domain.ProviderKv:
		_, ok := kvPermissions[p]
		return ok
	case domain.ProviderHttp:
		if _, ok := httpBasePermissions[p]; ok {
			return true
		}
		return strings.HasPrefix(p, httpDomainPrefix) && len(p) > len(httpDomainPrefix)
	case domain.ProviderMessaging:
		if _, ok := messagingBasePermissions[p]; ok {
			return true
		}
		if strings.HasPrefix(p, msgPublishScopePrefix) && len(p) > len(msgPublishScopePrefix) {
			return true
		}
		if strings.HasPrefix(p, msgSubscribeScopePrefix) && len(p) > len(msgSubscribeScopePrefix) {
			return true
		}
		return false
	default:
		return false
	}
}

// Revoke removes capabilityID from instanceID's assignment list, deleting
// the whole map entry once the list becomes empty.
func (r *Registry) Revoke(instanceID, capabilityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.assignments[instanceID]
	if !ok {
		return
	}
	kept := list[:0:0]
	for _, a := range list {
		if a.CapabilityID != capabilityID {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(r.assignments, instanceID)
		return
	}
	r.assignments[instanceID] = kept
}

// ClearInstance drops the whole assignment list for instanceID, used on
// instance stop.
func (r *Registry) ClearInstance(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, instanceID)
}

// Find returns the assignment matching instanceID+capabilityID, if any.
// Capability isolation holds because this only ever
// consults r.assignments[instanceID].
func (r *Registry) Find(instanceID, capabilityID string) (domain.CapabilityAssignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assignments[instanceID] {
		if a.CapabilityID == capabilityID {
			return a, true
		}
	}
	return domain.CapabilityAssignment{}, false
}

// List returns a copy of instanceID's assignment list.
func (r *Registry) List(instanceID string) []domain.CapabilityAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.assignments[instanceID]
	out := make([]domain.CapabilityAssignment, len(list))
	copy(out, list)
	return out
}
