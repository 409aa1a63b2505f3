package wire

// Messages carry the Control Plane <-> Node Agent wire contract as plain
// Go structs serialized as JSON over HTTP.

// CapabilityAssignment is the wire form of domain.CapabilityAssignment.
type CapabilityAssignment struct {
	InstanceID   string       `json:"instance_id"`
	CapabilityID string       `json:"capability_id"`
	ProviderType ProviderType `json:"provider_type"`
	Permissions  []string     `json:"permissions"`
}

// RestartPolicy is the wire form of domain.RestartPolicy.
type RestartPolicy struct {
	PolicyType     RestartPolicyType `json:"policy_type"`
	MaxRetries     *uint32           `json:"max_retries,omitempty"`
	BackoffSeconds *uint64           `json:"backoff_seconds,omitempty"`
}

// InstanceMetadata is the wire form of domain.InstanceMetadata.
type InstanceMetadata struct {
	InstanceID string         `json:"instance_id"`
	NodeID     string         `json:"node_id"`
	ModuleHash string         `json:"module_hash"`
	CreatedAt  int64          `json:"created_at"` // unix seconds
	Status     InstanceStatus `json:"status"`
}

// StartInstanceRequest is NodeAgentService.StartInstance's request.
type StartInstanceRequest struct {
	InstanceID    string                 `json:"instance_id"`
	ModuleBytes   []byte                 `json:"module_bytes"`
	Capabilities  []CapabilityAssignment `json:"capabilities"`
	RestartPolicy RestartPolicy          `json:"restart_policy"`
}

// StartInstanceResponse is NodeAgentService.StartInstance's response.
type StartInstanceResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// StopInstanceRequest is NodeAgentService.StopInstance's request.
type StopInstanceRequest struct {
	InstanceID string `json:"instance_id"`
}

// StopInstanceResponse is NodeAgentService.StopInstance's response.
type StopInstanceResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// QueryInstanceRequest is NodeAgentService.QueryInstance's request.
type QueryInstanceRequest struct {
	InstanceID string `json:"instance_id"`
}

// QueryInstanceResponse is NodeAgentService.QueryInstance's response.
type QueryInstanceResponse struct {
	Success   bool              `json:"success"`
	Instance  *InstanceMetadata `json:"instance,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
}

// ListInstancesRequest is NodeAgentService.ListInstances's request (empty).
type ListInstancesRequest struct{}

// ListInstancesResponse is NodeAgentService.ListInstances's response.
type ListInstancesResponse struct {
	Success   bool               `json:"success"`
	Instances []InstanceMetadata `json:"instances"`
}

// InvokeCapabilityRequest is NodeAgentService.InvokeCapability's request.
type InvokeCapabilityRequest struct {
	InstanceID   string       `json:"instance_id"`
	CapabilityID string       `json:"capability_id"`
	ProviderType ProviderType `json:"provider_type"`
	Operation    string       `json:"operation"`
	ParamsJSON   string       `json:"params_json,omitempty"`
	Permissions  []string     `json:"permissions,omitempty"`
}

// InvokeCapabilityResponse is NodeAgentService.InvokeCapability's response.
type InvokeCapabilityResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ResultJSON string `json:"result_json,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// RegisterNodeRequest is ControlPlaneService.RegisterNode's request.
type RegisterNodeRequest struct {
	NodeID       string   `json:"node_id"`
	NodeAddress  string   `json:"node_address"`
	Capabilities []string `json:"capabilities"`
	MaxInstances uint32   `json:"max_instances"`
}

// RegisterNodeResponse is ControlPlaneService.RegisterNode's response.
type RegisterNodeResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RegisterProviderRequest declares a capability provider hosted by a node,
// so the Control Plane can track provider metadata alongside (but disjoint
// from) its instance map.
type RegisterProviderRequest struct {
	ProviderID   string       `json:"provider_id"`
	ProviderType ProviderType `json:"provider_type"`
	NodeID       string       `json:"node_id"`
}

// RegisterProviderResponse acknowledges a provider registration.
type RegisterProviderResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// InstanceStatusUpdate is one entry in a StatusReport.
type InstanceStatusUpdate struct {
	InstanceID   string         `json:"instance_id"`
	Status       InstanceStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// HostStats is additive, best-effort telemetry riding alongside a
// StatusReport. It is never
// required for wire round-trip equality of the core fields.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
}

// StatusReport is ControlPlaneService.ReportStatus's request.
type StatusReport struct {
	NodeID          string                 `json:"node_id"`
	InstanceUpdates []InstanceStatusUpdate `json:"instance_updates"`
	Timestamp       int64                  `json:"timestamp"`
	HostStats       *HostStats             `json:"host_stats,omitempty"`
}

// StatusReportResponse is ControlPlaneService.ReportStatus's response.
type StatusReportResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
