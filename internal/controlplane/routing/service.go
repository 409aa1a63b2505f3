package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mo3789530/wasmatrix/internal/controlplane/state"
	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
	"github.com/mo3789530/wasmatrix/internal/wire"
)

// etcdMirror is the narrow interface routing.Service needs from
// etcdmirror.Mirror. A nil concrete *etcdmirror.Mirror already no-ops every
// method, so Service treats "no mirror configured" and "mirror present but
// disabled" identically.
type etcdMirror interface {
	PutNode(ctx context.Context, nodeID string, value []byte) error
	PutProvider(ctx context.Context, providerID string, value []byte) error
}

// Service owns candidate selection, RPC dispatch, and node
// re-registration recovery. It composes Repository (the routing table)
// with state.Store (the Control Plane's authoritative instance metadata) —
// neither owns RPC transport on its own; Service is the only piece that
// does.
type Service struct {
	repo      *Repository
	store     *state.Store
	transport NodeTransport
	log       *logging.Logger
	metrics   *obsmetrics.ControlPlaneMetrics
	mirror    etcdMirror
}

// New constructs a routing Service with no etcd mirroring.
func New(repo *Repository, store *state.Store, transport NodeTransport, log *logging.Logger, metrics *obsmetrics.ControlPlaneMetrics) *Service {
	return &Service{repo: repo, store: store, transport: transport, log: log, metrics: metrics}
}

// WithMirror attaches an etcd mirror so node registrations are reflected to
// /wasmatrix/nodes/<node_id>. Safe to call with a
// nil *etcdmirror.Mirror — PutNode on a disabled mirror already no-ops.
func (s *Service) WithMirror(m etcdMirror) *Service {
	s.mirror = m
	return s
}

// RegisterNode upserts the node record and, for a node that was already
// known (or on Control Plane restart against a node that has state),
// triggers recovery via ListInstances.
func (s *Service) RegisterNode(ctx context.Context, nodeID, address string, capabilities []string, maxInstances uint32) error {
	rec := s.repo.RegisterNode(nodeID, address, capabilities, maxInstances)
	if s.metrics != nil {
		s.metrics.NodesRegistered.Set(float64(len(s.repo.All())))
	}
	if s.mirror != nil {
		if body, err := json.Marshal(rec); err == nil {
			if err := s.mirror.PutNode(ctx, nodeID, body); err != nil {
				s.log.With("node_id", nodeID).Warnf("etcd mirror put failed: %v", err)
			}
		}
	}
	return s.recoverNodeState(ctx, rec)
}

// recoverNodeState calls ListInstances on the node and reconstructs
// Control-Plane-side assignment and metadata for each returned instance.
func (s *Service) recoverNodeState(ctx context.Context, rec domain.NodeAgentRecord) error {
	resp, err := s.transport.ListInstances(ctx, rec.NodeAddress)
	if err != nil {
		// A brand-new node with nothing to recover yet is not an error; any
		// other transport failure just means recovery is skipped until the
		// next successful contact.
		s.log.With("node_id", rec.NodeID).Warnf("state recovery list_instances failed: %v", err)
		return nil
	}

	var active uint32
	for _, wm := range resp.Instances {
		meta, err := wire.ToDomainInstanceMetadata(wm)
		if err != nil {
			return wasmerr.Wrap(wasmerr.ValidationError, "recovered instance has invalid status", err)
		}
		meta.NodeID = rec.NodeID
		s.store.RestoreInstanceState(meta, nil)
		s.repo.AssignInstance(meta.InstanceID, rec.NodeID)
		if meta.Status == domain.StatusStarting || meta.Status == domain.StatusRunning {
			active++
		}
	}
	s.repo.SetActiveInstances(rec.NodeID, active)
	return nil
}

// RegisterProvider records provider metadata in the routing table, keyed by
// provider_id disjointly from instance ids, and mirrors it to
// /wasmatrix/providers/<provider_id> when etcd is enabled.
func (s *Service) RegisterProvider(ctx context.Context, providerID string, providerType domain.ProviderType, nodeID string) error {
	if providerID == "" {
		return wasmerr.New(wasmerr.InvalidRequest, "provider_id is required")
	}
	s.repo.RegisterProvider(providerID, providerType, nodeID)
	if s.mirror != nil {
		meta, _ := s.repo.ProviderMeta(providerID)
		if body, err := json.Marshal(meta); err == nil {
			if err := s.mirror.PutProvider(ctx, providerID, body); err != nil {
				s.log.With("provider_id", providerID).Warnf("etcd mirror put failed: %v", err)
			}
		}
	}
	return nil
}

// StartInstance generates a fresh instance id, walks filtered+sorted
// candidates, and dispatches StartInstance to each in order until one
// succeeds.
func (s *Service) StartInstance(ctx context.Context, moduleBytes []byte, capabilities []domain.CapabilityAssignment, policy domain.RestartPolicy, required []domain.ProviderType) (string, error) {
	if err := wire.ValidateModuleBytes(moduleBytes, true); err != nil {
		return "", err
	}
	candidates := SelectCandidates(s.repo.All(), required)
	if s.metrics != nil {
		s.metrics.CandidateSelection.Observe(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		return "", wasmerr.New(wasmerr.ResourceExhausted, "no candidate node available")
	}

	instanceID := uuid.NewString()
	wireCaps := make([]wire.CapabilityAssignment, 0, len(capabilities))
	for _, c := range capabilities {
		c.InstanceID = instanceID
		wireCaps = append(wireCaps, wire.FromDomainCapabilityAssignment(c))
	}
	req := wire.StartInstanceRequest{
		InstanceID:    instanceID,
		ModuleBytes:   moduleBytes,
		Capabilities:  wireCaps,
		RestartPolicy: wire.FromDomainRestartPolicy(policy),
	}

	var failures []string
	for _, node := range candidates {
		resp, err := s.transport.StartInstance(ctx, node.NodeAddress, req)
		if err != nil {
			s.repo.SetAvailable(node.NodeID, false)
			if s.metrics != nil {
				s.metrics.DispatchFailures.WithLabelValues("transport").Inc()
			}
			failures = append(failures, fmt.Sprintf("%s: %v", node.NodeID, err))
			continue
		}
		if !resp.Success {
			if s.metrics != nil {
				s.metrics.DispatchFailures.WithLabelValues("logical").Inc()
			}
			failures = append(failures, fmt.Sprintf("%s: %s", node.NodeID, resp.Message))
			continue
		}

		s.repo.AssignInstance(instanceID, node.NodeID)
		s.repo.IncrementActive(node.NodeID)
		s.repo.SetAvailable(node.NodeID, true)
		s.store.RestoreInstanceState(domain.InstanceMetadata{
			InstanceID: instanceID,
			NodeID:     node.NodeID,
			ModuleHash: wire.ModuleHash(moduleBytes),
			CreatedAt:  time.Now(),
			Status:     domain.StatusStarting,
		}, capabilities)
		return instanceID, nil
	}
	return "", wasmerr.New(wasmerr.Timeout, "all candidate nodes failed to start instance").
		WithDetails("failures", strings.Join(failures, "; "))
}

// StopInstance forwards the stop to the owning node. A logical NotFound
// response is translated to success — stop is idempotent at the system
// boundary. A transport error surfaces as TIMEOUT.
func (s *Service) StopInstance(ctx context.Context, instanceID string) error {
	nodeID, ok := s.repo.NodeForInstance(instanceID)
	if !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	rec, ok := s.repo.Get(nodeID)
	if !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "owning node no longer registered").WithDetails("node_id", nodeID)
	}

	resp, err := s.transport.StopInstance(ctx, rec.NodeAddress, instanceID)
	if err != nil {
		return wasmerr.Wrap(wasmerr.Timeout, "stop_instance RPC failed", err).WithDetails("node_id", nodeID)
	}
	if !resp.Success && resp.ErrorCode != string(wasmerr.InstanceNotFound) {
		return wasmerr.New(wasmerr.Code(resp.ErrorCode), resp.Message)
	}

	s.repo.UnassignInstance(instanceID)
	s.repo.DecrementActive(nodeID)
	_ = s.store.StopInstance(instanceID)
	return nil
}

// QueryInstance forwards the query to the owning node. The routing table is
// left unchanged regardless of outcome.
func (s *Service) QueryInstance(ctx context.Context, instanceID string) (domain.InstanceMetadata, error) {
	nodeID, ok := s.repo.NodeForInstance(instanceID)
	if !ok {
		return domain.InstanceMetadata{}, wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	rec, ok := s.repo.Get(nodeID)
	if !ok {
		return domain.InstanceMetadata{}, wasmerr.New(wasmerr.InstanceNotFound, "owning node no longer registered").WithDetails("node_id", nodeID)
	}

	resp, err := s.transport.QueryInstance(ctx, rec.NodeAddress, instanceID)
	if err != nil {
		return domain.InstanceMetadata{}, wasmerr.Wrap(wasmerr.Timeout, "query_instance RPC failed", err).WithDetails("node_id", nodeID)
	}
	if !resp.Success || resp.Instance == nil {
		return domain.InstanceMetadata{}, wasmerr.New(wasmerr.Code(resp.ErrorCode), "instance not found on owning node")
	}
	return wire.ToDomainInstanceMetadata(*resp.Instance)
}

// ListInstances fans out to every registered node in parallel, skips nodes
// whose transport fails (marking them unavailable), and concatenates the
// successful responses.
func (s *Service) ListInstances(ctx context.Context) []domain.InstanceMetadata {
	nodes := s.repo.All()
	results := make([][]domain.InstanceMetadata, len(nodes))

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node domain.NodeAgentRecord) {
			defer wg.Done()
			resp, err := s.transport.ListInstances(ctx, node.NodeAddress)
			if err != nil {
				s.repo.SetAvailable(node.NodeID, false)
				s.log.With("node_id", node.NodeID).Warnf("list_instances failed: %v", err)
				return
			}
			metas := make([]domain.InstanceMetadata, 0, len(resp.Instances))
			for _, wm := range resp.Instances {
				meta, err := wire.ToDomainInstanceMetadata(wm)
				if err != nil {
					continue
				}
				meta.NodeID = node.NodeID
				metas = append(metas, meta)
			}
			results[i] = metas
		}(i, node)
	}
	wg.Wait()

	var out []domain.InstanceMetadata
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// ApplyHeartbeat ingests one StatusReport: it updates the node's liveness
// and applies each instance status update to the Control Plane state.
// Unknown instance ids are logged and skipped, not fatal to the report.
func (s *Service) ApplyHeartbeat(report wire.StatusReport) error {
	rec, ok := s.repo.Get(report.NodeID)
	if !ok {
		return wasmerr.New(wasmerr.InvalidRequest, "unknown node_id in status report").WithDetails("node_id", report.NodeID)
	}
	s.repo.UpdateHeartbeat(report.NodeID, time.Unix(report.Timestamp, 0).UTC())
	if report.HostStats != nil {
		s.repo.SetHostStats(report.NodeID, report.HostStats.CPUPercent, report.HostStats.MemUsedBytes)
	}
	if s.metrics != nil {
		s.metrics.HeartbeatsReceived.Inc()
	}
	_ = rec

	for _, u := range report.InstanceUpdates {
		status, err := wire.ToDomainStatus(u.Status)
		if err != nil {
			return wasmerr.Wrap(wasmerr.ValidationError, "status report carries an invalid instance status", err)
		}
		if err := s.store.UpdateInstanceStatus(u.InstanceID, status); err != nil {
			s.log.With("instance_id", u.InstanceID).Warnf("status report references unknown instance: %v", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.InstancesByStatus.WithLabelValues(status.String()).Inc()
		}
	}
	return nil
}
