// Package server exposes ControlPlaneService (RegisterNode, ReportStatus)
// plus the external-facing instance-lifecycle API that routes through
// routing.Service, over HTTP/JSON with gorilla/mux — the Control Plane's
// counterpart to internal/nodeagent/server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mo3789530/wasmatrix/internal/controlplane/routing"
	"github.com/mo3789530/wasmatrix/internal/controlplane/state"
	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
	"github.com/mo3789530/wasmatrix/internal/wire"
)

// Service implements ControlPlaneService and the external instance API,
// following the same Name/Start/Stop/Router lifecycle shape as the Node
// Agent's server.Service.
type Service struct {
	addr    string
	routing *routing.Service
	store   *state.Store
	log     *logging.Logger
	metrics *obsmetrics.ControlPlaneMetrics
	hub     *watchHub

	router *mux.Router
	srv    *http.Server
}

// Deps bundles Service's collaborators.
type Deps struct {
	Addr    string
	Routing *routing.Service
	Store   *state.Store
	Log     *logging.Logger
	Metrics *obsmetrics.ControlPlaneMetrics
}

// New constructs the Control Plane HTTP service and registers its routes.
func New(d Deps) *Service {
	s := &Service{
		addr:    d.Addr,
		routing: d.Routing,
		store:   d.Store,
		log:     d.Log,
		metrics: d.Metrics,
		hub:     newWatchHub(d.Log),
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/v1/nodes/register", s.handleRegisterNode).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/report-status", s.handleReportStatus).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/providers/register", s.handleRegisterProvider).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/instances", s.handleStartInstance).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/instances", s.handleListInstances).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/instances/{instance_id}", s.handleQueryInstance).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/instances/{instance_id}", s.handleStopInstance).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/instances/{instance_id}/capabilities", s.handleAssignCapability).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/instances/{instance_id}/capabilities/{capability_id}", s.handleRevokeCapability).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/watch", s.hub.handle)
	return s
}

// Name identifies this service in process logs.
func (s *Service) Name() string { return "control-plane" }

// Router exposes the underlying mux.Router.
func (s *Service) Router() *mux.Router { return s.router }

// Start begins serving HTTP.
func (s *Service) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("control plane http server stopped: %v", err)
		}
	}()
	s.log.With("addr", s.addr).Infof("control plane listening")
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Service) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Service) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NodeID == "" || req.NodeAddress == "" {
		writeJSON(w, http.StatusOK, wire.RegisterNodeResponse{Success: false, Message: "node_id and node_address are required", ErrorCode: string(wasmerr.InvalidRequest)})
		return
	}
	if err := s.routing.RegisterNode(r.Context(), req.NodeID, req.NodeAddress, req.Capabilities, req.MaxInstances); err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.RegisterNodeResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}
	s.hub.broadcast(watchEvent{Kind: "node", ID: req.NodeID})
	writeJSON(w, http.StatusOK, wire.RegisterNodeResponse{Success: true, Message: "node registered"})
}

func (s *Service) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	var req wire.StatusReport
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NodeID == "" {
		writeJSON(w, http.StatusOK, wire.StatusReportResponse{Success: false, Message: "node_id is required"})
		return
	}
	if err := s.routing.ApplyHeartbeat(req); err != nil {
		writeJSON(w, http.StatusOK, wire.StatusReportResponse{Success: false, Message: err.Error()})
		return
	}
	for _, u := range req.InstanceUpdates {
		s.hub.broadcast(watchEvent{Kind: "instance", ID: u.InstanceID, Status: u.Status.String(), NodeID: req.NodeID})
	}
	writeJSON(w, http.StatusOK, wire.StatusReportResponse{Success: true, Message: "status report accepted"})
}

func (s *Service) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterProviderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProviderID == "" {
		writeJSON(w, http.StatusOK, wire.RegisterProviderResponse{Success: false, Message: "provider_id is required", ErrorCode: string(wasmerr.InvalidRequest)})
		return
	}
	providerType, err := wire.ToDomainProviderType(req.ProviderType)
	if err != nil {
		writeJSON(w, http.StatusOK, wire.RegisterProviderResponse{Success: false, Message: err.Error(), ErrorCode: string(wasmerr.ValidationError)})
		return
	}
	if err := s.routing.RegisterProvider(r.Context(), req.ProviderID, providerType, req.NodeID); err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.RegisterProviderResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}
	writeJSON(w, http.StatusOK, wire.RegisterProviderResponse{Success: true, Message: "provider registered"})
}

// startInstanceBody is the external caller's request shape: the same
// essential fields as wire.StartInstanceRequest, minus instance_id (the
// Control Plane generates it).
type startInstanceBody struct {
	ModuleBytes   []byte                      `json:"module_bytes"`
	Capabilities  []wire.CapabilityAssignment `json:"capabilities"`
	RestartPolicy wire.RestartPolicy          `json:"restart_policy"`
}

func (s *Service) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	var body startInstanceBody
	if !decodeJSON(w, r, &body) {
		return
	}
	policy, err := wire.ToDomainRestartPolicy(body.RestartPolicy)
	if err != nil {
		writeJSON(w, http.StatusOK, wire.StartInstanceResponse{Success: false, Message: err.Error(), ErrorCode: string(wasmerr.ValidationError)})
		return
	}
	assignments := make([]domain.CapabilityAssignment, 0, len(body.Capabilities))
	required := make([]domain.ProviderType, 0, len(body.Capabilities))
	seen := make(map[domain.ProviderType]struct{})
	for _, a := range body.Capabilities {
		da, err := wire.ToDomainCapabilityAssignment(a)
		if err != nil {
			writeJSON(w, http.StatusOK, wire.StartInstanceResponse{Success: false, Message: err.Error(), ErrorCode: string(wasmerr.ValidationError)})
			return
		}
		assignments = append(assignments, da)
		if _, ok := seen[da.ProviderType]; !ok {
			seen[da.ProviderType] = struct{}{}
			required = append(required, da.ProviderType)
		}
	}

	instanceID, err := s.routing.StartInstance(r.Context(), body.ModuleBytes, assignments, policy, required)
	if err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.StartInstanceResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}
	s.hub.broadcast(watchEvent{Kind: "instance", ID: instanceID, Status: domain.StatusStarting.String()})
	writeJSON(w, http.StatusOK, struct {
		wire.StartInstanceResponse
		InstanceID string `json:"instance_id"`
	}{StartInstanceResponse: wire.StartInstanceResponse{Success: true, Message: "instance dispatched"}, InstanceID: instanceID})
}

func (s *Service) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]
	if err := s.routing.StopInstance(r.Context(), instanceID); err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.StopInstanceResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}
	s.hub.broadcast(watchEvent{Kind: "instance", ID: instanceID, Status: domain.StatusStopped.String()})
	writeJSON(w, http.StatusOK, wire.StopInstanceResponse{Success: true, Message: "instance stopped"})
}

func (s *Service) handleQueryInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]
	meta, err := s.routing.QueryInstance(r.Context(), instanceID)
	if err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.QueryInstanceResponse{Success: false, ErrorCode: code}
		})
		return
	}
	wm := wire.FromDomainInstanceMetadata(meta)
	writeJSON(w, http.StatusOK, wire.QueryInstanceResponse{Success: true, Instance: &wm})
}

func (s *Service) handleListInstances(w http.ResponseWriter, r *http.Request) {
	metas := s.routing.ListInstances(r.Context())
	out := make([]wire.InstanceMetadata, 0, len(metas))
	for _, m := range metas {
		out = append(out, wire.FromDomainInstanceMetadata(m))
	}
	writeJSON(w, http.StatusOK, wire.ListInstancesResponse{Success: true, Instances: out})
}

func (s *Service) handleAssignCapability(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]
	var body wire.CapabilityAssignment
	if !decodeJSON(w, r, &body) {
		return
	}
	body.InstanceID = instanceID
	a, err := wire.ToDomainCapabilityAssignment(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.AssignCapability(a); err != nil {
		writeServiceErrPlain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) handleRevokeCapability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.RevokeCapability(vars["instance_id"], vars["capability_id"]); err != nil {
		writeServiceErrPlain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeServiceErr(w http.ResponseWriter, err error, wrap func(code, msg string) any) {
	code := wasmerr.CodeOf(err)
	writeJSON(w, http.StatusOK, wrap(string(code), err.Error()))
}

func writeServiceErrPlain(w http.ResponseWriter, err error) {
	code := wasmerr.CodeOf(err)
	writeJSON(w, http.StatusOK, map[string]string{"success": "false", "error_code": string(code), "message": err.Error()})
}
