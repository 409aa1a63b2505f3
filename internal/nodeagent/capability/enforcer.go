package capability

import (
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

// Invocation carries the parameters of one capability call, enough of the
// operation's semantics to check permissions and quota.
type Invocation struct {
	InstanceID   string
	CapabilityID string
	ProviderType domain.ProviderType
	Operation    string
	// Host is the target host for an Http "request" operation.
	Host string
	// Topic is the messaging topic for publish/subscribe/unsubscribe.
	Topic string
}

// Enforcer checks every invocation against the Registry's stored assignments
// and, additively, a per-instance-per-provider token bucket quota. The quota
// layer is separate from the permission model; it exists so a single
// misbehaving instance cannot starve a shared provider.
type Enforcer struct {
	registry *Registry

	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	limitPerSec  rate.Limit
	limitBurst   int

	metrics *obsmetrics.NodeAgentMetrics
}

// NewEnforcer constructs an Enforcer over registry. ratePerSecond/burst of 0
// disables quota enforcement entirely (permission checks still apply).
func NewEnforcer(registry *Registry, ratePerSecond float64, burst int, metrics *obsmetrics.NodeAgentMetrics) *Enforcer {
	return &Enforcer{
		registry:    registry,
		limiters:    make(map[string]*rate.Limiter),
		limitPerSec: rate.Limit(ratePerSecond),
		limitBurst:  burst,
		metrics:     metrics,
	}
}

// Authorize checks inv against the stored assignment and the provider-type
// operation grammar, then consumes one quota token. It returns a
// *wasmerr.Error with Code PermissionDenied, ValidationError, or
// ResourceExhausted on rejection.
func (e *Enforcer) Authorize(inv Invocation) error {
	assignment, ok := e.registry.Find(inv.InstanceID, inv.CapabilityID)
	if !ok {
		return e.deny(inv, "no capability assignment for instance")
	}

	required, err := requiredPermissions(inv)
	if err != nil {
		return err
	}

	if !hasAny(assignment.Permissions, required) {
		return e.deny(inv, "missing required permission").WithDetails("required", required)
	}

	if inv.ProviderType == domain.ProviderHttp && inv.Operation == "request" {
		if err := checkHostScope(assignment.Permissions, inv.Host); err != nil {
			return e.deny(inv, err.Error())
		}
	}

	if !e.allow(inv.InstanceID, inv.ProviderType) {
		return wasmerr.New(wasmerr.ResourceExhausted, "capability invocation rate limit exceeded").
			WithDetails("instance_id", inv.InstanceID).WithDetails("provider_type", inv.ProviderType.String())
	}
	return nil
}

func (e *Enforcer) deny(inv Invocation, reason string) *wasmerr.Error {
	if e.metrics != nil {
		e.metrics.CapabilityDenied.WithLabelValues(inv.ProviderType.String()).Inc()
	}
	return wasmerr.New(wasmerr.PermissionDenied, reason).
		WithDetails("instance_id", inv.InstanceID).
		WithDetails("capability_id", inv.CapabilityID)
}

// requiredPermissions maps (provider_type, operation) to the set of
// permission strings of which at least one must be held. An
// unknown operation is an invalid-argument error, not a permission denial.
func requiredPermissions(inv Invocation) ([]string, error) {
	switch inv.ProviderType {
	case domain.ProviderKv:
		switch inv.Operation {
		case "get", "list", "exists":
			return []string{"kv:read"}, nil
		case "set":
			return []string{"kv:write"}, nil
		case "delete":
			return []string{"kv:delete"}, nil
		}
	case domain.ProviderHttp:
		if inv.Operation == "request" {
			return []string{"http:request"}, nil
		}
	case domain.ProviderMessaging:
		switch inv.Operation {
		case "publish":
			return []string{"msg:publish", msgPublishScopePrefix + inv.Topic}, nil
		case "subscribe", "unsubscribe":
			return []string{"msg:subscribe", msgSubscribeScopePrefix + inv.Topic}, nil
		}
	}
	return nil, wasmerr.New(wasmerr.ValidationError, "unknown capability operation").
		WithDetails("operation", inv.Operation).WithDetails("provider_type", inv.ProviderType.String())
}

func hasAny(held []string, required []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, h := range held {
		set[h] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// checkHostScope enforces the Http domain-scoping rule: if any
// http:domain:<host> permission is present, the request's host must equal
// the scoped host of at least one of them; an unscoped http:request
// authorizes any host.
func checkHostScope(permissions []string, host string) error {
	var scopes []string
	for _, p := range permissions {
		if strings.HasPrefix(p, httpDomainPrefix) {
			scopes = append(scopes, strings.TrimPrefix(p, httpDomainPrefix))
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	for _, s := range scopes {
		if strings.EqualFold(s, host) {
			return nil
		}
	}
	return wasmerr.New(wasmerr.PermissionDenied, "host not within scoped domains").WithDetails("host", host)
}

// HostFromURL extracts the host component from a request URL, for callers
// building an Invocation from a raw URL string.
func HostFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", wasmerr.Wrap(wasmerr.InvalidRequest, "invalid request URL", err)
	}
	return u.Hostname(), nil
}

// allow consumes one token from instanceID+providerType's bucket, creating
// it on first use. Disabled (limit == 0) always allows.
func (e *Enforcer) allow(instanceID string, providerType domain.ProviderType) bool {
	if e.limitPerSec == 0 {
		return true
	}
	key := instanceID + "|" + providerType.String()
	e.mu.Lock()
	limiter, ok := e.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(e.limitPerSec, e.limitBurst)
		e.limiters[key] = limiter
	}
	e.mu.Unlock()
	return limiter.Allow()
}
