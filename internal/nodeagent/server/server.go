// Package server exposes NodeAgentService over HTTP/JSON using
// gorilla/mux: instance lifecycle, listing, and capability invocation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/capability"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/instance"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/provider"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/status"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
	"github.com/mo3789530/wasmatrix/internal/wire"
)

// Service implements NodeAgentService and fits the Runner-style lifecycle
// (Name/Start/Stop/Router) the rest of this family of services uses.
type Service struct {
	nodeID       string
	addr         string
	manager      *instance.Manager
	capabilities *capability.Registry
	enforcer     *capability.Enforcer
	providers    *capability.ProviderLifecycle
	dispatcher   *provider.Dispatcher
	statusClient *status.Client
	log          *logging.Logger
	metrics      *obsmetrics.NodeAgentMetrics

	router *mux.Router
	srv    *http.Server
}

// Deps bundles Service's collaborators.
type Deps struct {
	NodeID       string
	Addr         string
	Manager      *instance.Manager
	Capabilities *capability.Registry
	Enforcer     *capability.Enforcer
	Providers    *capability.ProviderLifecycle
	Dispatcher   *provider.Dispatcher
	StatusClient *status.Client
	Log          *logging.Logger
	Metrics      *obsmetrics.NodeAgentMetrics
}

// New constructs the Node Agent HTTP service and registers its routes.
func New(d Deps) *Service {
	s := &Service{
		nodeID:       d.NodeID,
		addr:         d.Addr,
		manager:      d.Manager,
		capabilities: d.Capabilities,
		enforcer:     d.Enforcer,
		providers:    d.Providers,
		dispatcher:   d.Dispatcher,
		statusClient: d.StatusClient,
		log:          d.Log,
		metrics:      d.Metrics,
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/v1/instances", s.handleStartInstance).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/instances", s.handleListInstances).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/instances/{instance_id}", s.handleQueryInstance).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/instances/{instance_id}", s.handleStopInstance).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/instances/{instance_id}/capabilities/{capability_id}/invoke", s.handleInvokeCapability).Methods(http.MethodPost)
	return s
}

// Name identifies this service in process logs.
func (s *Service) Name() string { return "node-agent" }

// Router exposes the underlying mux.Router.
func (s *Service) Router() *mux.Router { return s.router }

// Start begins serving HTTP and launches the status-report heartbeat.
func (s *Service) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	if s.statusClient != nil {
		s.statusClient.Start(ctx)
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("node agent http server stopped: %v", err)
		}
	}()
	s.log.With("addr", s.addr).Infof("node agent listening")
	return nil
}

// Stop gracefully shuts down the HTTP server and the heartbeat task.
func (s *Service) Stop() error {
	if s.statusClient != nil {
		s.statusClient.Stop()
	}
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Service) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	var req wire.StartInstanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.InstanceID == "" {
		writeJSON(w, http.StatusOK, wire.StartInstanceResponse{Success: false, Message: "instance_id is required", ErrorCode: string(wasmerr.InvalidRequest)})
		return
	}
	if err := wire.ValidateModuleBytes(req.ModuleBytes, false); err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.StartInstanceResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}
	policy, err := wire.ToDomainRestartPolicy(req.RestartPolicy)
	if err != nil {
		writeJSON(w, http.StatusOK, wire.StartInstanceResponse{Success: false, Message: err.Error(), ErrorCode: string(wasmerr.ValidationError)})
		return
	}
	assignments := make([]domain.CapabilityAssignment, 0, len(req.Capabilities))
	for _, a := range req.Capabilities {
		da, err := wire.ToDomainCapabilityAssignment(a)
		if err != nil {
			writeJSON(w, http.StatusOK, wire.StartInstanceResponse{Success: false, Message: err.Error(), ErrorCode: string(wasmerr.ValidationError)})
			return
		}
		da.InstanceID = req.InstanceID
		assignments = append(assignments, da)
	}

	if err := s.manager.StartInstance(r.Context(), req.InstanceID, req.ModuleBytes, assignments, policy); err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.StartInstanceResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}
	for _, a := range assignments {
		if err := s.capabilities.Assign(a); err != nil {
			s.log.With("instance_id", req.InstanceID).Warnf("capability assignment rejected: %v", err)
		}
	}
	if s.statusClient != nil {
		s.statusClient.ReportNow(r.Context(), req.InstanceID)
	}
	writeJSON(w, http.StatusOK, wire.StartInstanceResponse{Success: true, Message: "instance started"})
}

func (s *Service) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]
	err := s.manager.StopInstance(instanceID)
	if err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.StopInstanceResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}
	s.capabilities.ClearInstance(instanceID)
	if s.statusClient != nil {
		s.statusClient.ReportNow(r.Context(), instanceID)
	}
	writeJSON(w, http.StatusOK, wire.StopInstanceResponse{Success: true, Message: "instance stopped"})
}

func (s *Service) handleQueryInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]
	meta, err := s.manager.Metadata(instanceID)
	if err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.QueryInstanceResponse{Success: false, ErrorCode: code}
		})
		return
	}
	meta.NodeID = s.nodeID
	wm := wire.FromDomainInstanceMetadata(meta)
	writeJSON(w, http.StatusOK, wire.QueryInstanceResponse{Success: true, Instance: &wm})
}

func (s *Service) handleListInstances(w http.ResponseWriter, r *http.Request) {
	metas := s.manager.List()
	out := make([]wire.InstanceMetadata, 0, len(metas))
	for _, m := range metas {
		m.NodeID = s.nodeID
		out = append(out, wire.FromDomainInstanceMetadata(m))
	}
	writeJSON(w, http.StatusOK, wire.ListInstancesResponse{Success: true, Instances: out})
}

func (s *Service) handleInvokeCapability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instanceID := vars["instance_id"]
	capabilityID := vars["capability_id"]

	var req wire.InvokeCapabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InstanceID = instanceID
	req.CapabilityID = capabilityID

	providerType, err := wire.ToDomainProviderType(req.ProviderType)
	if err != nil {
		writeJSON(w, http.StatusOK, wire.InvokeCapabilityResponse{Success: false, Message: err.Error(), ErrorCode: string(wasmerr.ValidationError)})
		return
	}

	if _, ok := s.manager.Handle(instanceID); !ok {
		writeJSON(w, http.StatusOK, wire.InvokeCapabilityResponse{
			Success: false, Message: "instance is not running", ErrorCode: string(wasmerr.InstanceNotFound),
		})
		return
	}

	if err := s.providers.EnsureAvailable(capabilityID); err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.InvokeCapabilityResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}

	var params map[string]string
	_ = json.Unmarshal([]byte(req.ParamsJSON), &params)

	inv := capability.Invocation{
		InstanceID:   instanceID,
		CapabilityID: capabilityID,
		ProviderType: providerType,
		Operation:    req.Operation,
		Host:         params["host"],
		Topic:        params["topic"],
	}
	if err := s.enforcer.Authorize(inv); err != nil {
		writeServiceErr(w, err, func(code, msg string) any {
			return wire.InvokeCapabilityResponse{Success: false, Message: msg, ErrorCode: code}
		})
		return
	}

	result, err := s.dispatcher.Invoke(r.Context(), provider.Request{
		InstanceID:   instanceID,
		CapabilityID: capabilityID,
		ProviderType: providerType,
		Operation:    req.Operation,
		ParamsJSON:   req.ParamsJSON,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, wire.InvokeCapabilityResponse{
			Success: false, Message: err.Error(), ErrorCode: string(wasmerr.StorageError),
		})
		return
	}
	writeJSON(w, http.StatusOK, wire.InvokeCapabilityResponse{Success: true, Message: "invoked", ResultJSON: result})
}

// CorrelationID echoes x-correlation-id if present, else generates a fresh
// UUID.
func CorrelationID(r *http.Request) string {
	if v := r.Header.Get("x-correlation-id"); v != "" {
		return v
	}
	return uuid.NewString()
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
