// Package obsmetrics exposes the Prometheus surface for both the Node Agent
// and the Control Plane. The core orchestration logic never imports this
// package directly for decision-making; it is instrumentation, wired at
// the process entrypoints.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// NodeAgentMetrics are the counters/gauges emitted by a Node Agent process.
type NodeAgentMetrics struct {
	InstancesRunning prometheus.Gauge
	InstancesCrashed *prometheus.GaugeVec
	Restarts         prometheus.Counter
	RestartBackoff   prometheus.Histogram
	HeartbeatsSent   prometheus.Counter
	HeartbeatErrors  prometheus.Counter
	CapabilityDenied *prometheus.CounterVec
}

// NewNodeAgentMetrics registers and returns Node Agent metrics on reg.
func NewNodeAgentMetrics(reg prometheus.Registerer) *NodeAgentMetrics {
	m := &NodeAgentMetrics{
		InstancesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wasmatrix", Subsystem: "agent", Name: "instances_running",
			Help: "Number of Wasm instances currently present in the live map.",
		}),
		InstancesCrashed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wasmatrix", Subsystem: "agent", Name: "instances_crashed",
			Help: "Crashes observed since process start, by reason.",
		}, []string{"reason"}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wasmatrix", Subsystem: "agent", Name: "restarts_total",
			Help: "Total number of restart attempts issued by the supervisor.",
		}),
		RestartBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wasmatrix", Subsystem: "agent", Name: "restart_backoff_seconds",
			Help:    "Computed restart backoff delays.",
			Buckets: []float64{0, 5, 10, 20, 40, 80, 160, 300},
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wasmatrix", Subsystem: "agent", Name: "heartbeats_sent_total",
			Help: "Total status reports sent to the Control Plane.",
		}),
		HeartbeatErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wasmatrix", Subsystem: "agent", Name: "heartbeat_errors_total",
			Help: "Total status-report send failures.",
		}),
		CapabilityDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasmatrix", Subsystem: "agent", Name: "capability_denied_total",
			Help: "Capability invocations rejected by the permission enforcer.",
		}, []string{"provider_type"}),
	}
	reg.MustRegister(m.InstancesRunning, m.InstancesCrashed, m.Restarts, m.RestartBackoff,
		m.HeartbeatsSent, m.HeartbeatErrors, m.CapabilityDenied)
	return m
}

// ControlPlaneMetrics are the counters/gauges emitted by the Control Plane.
type ControlPlaneMetrics struct {
	NodesRegistered    prometheus.Gauge
	NodesAvailable     prometheus.Gauge
	CandidateSelection prometheus.Histogram
	DispatchFailures   *prometheus.CounterVec
	HeartbeatsReceived prometheus.Counter
	InstancesByStatus  *prometheus.GaugeVec
}

// NewControlPlaneMetrics registers and returns Control Plane metrics on reg.
func NewControlPlaneMetrics(reg prometheus.Registerer) *ControlPlaneMetrics {
	m := &ControlPlaneMetrics{
		NodesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wasmatrix", Subsystem: "control_plane", Name: "nodes_registered",
			Help: "Number of nodes currently in the routing table.",
		}),
		NodesAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wasmatrix", Subsystem: "control_plane", Name: "nodes_available",
			Help: "Number of nodes currently marked available.",
		}),
		CandidateSelection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wasmatrix", Subsystem: "control_plane", Name: "candidate_pool_size",
			Help:    "Size of the candidate pool after filtering, per start request.",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		}),
		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasmatrix", Subsystem: "control_plane", Name: "dispatch_failures_total",
			Help: "RPC dispatch failures by class (transport|logical).",
		}, []string{"class"}),
		HeartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wasmatrix", Subsystem: "control_plane", Name: "heartbeats_received_total",
			Help: "Total status reports received from Node Agents.",
		}),
		InstancesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wasmatrix", Subsystem: "control_plane", Name: "instances_by_status",
			Help: "Status updates applied from Node Agent reports, by reported status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.NodesRegistered, m.NodesAvailable, m.CandidateSelection,
		m.DispatchFailures, m.HeartbeatsReceived, m.InstancesByStatus)
	return m
}
