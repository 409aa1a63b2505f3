// Package config loads the environment-variable surface for the
// node-agent and control-plane processes: plain os.Getenv reads with typed
// helpers, plus optional .env loading via godotenv for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file if present. Missing files are not an error —
// the process may be fully configured via the real environment (container
// deployments never ship a .env).
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

// NodeAgentConfig holds the Node Agent's process-boundary configuration.
type NodeAgentConfig struct {
	NodeID                 string
	ListenAddr             string
	AdvertiseAddr          string
	ControlPlaneAddr       string
	StatusReportInterval   time.Duration
	MaxInstances           int
	AdvertisedCapabilities []string
	GCRetention            time.Duration
	GCSchedule             string
	MetricsAddr            string
}

// LoadNodeAgentConfig reads NODE_ID, NODE_AGENT_ADDR, CONTROL_PLANE_ADDR,
// STATUS_REPORT_INTERVAL_SECS, INSTANCE_GC_RETENTION_SECS,
// INSTANCE_GC_SCHEDULE, and NODE_AGENT_METRICS_ADDR from the environment.
func LoadNodeAgentConfig() NodeAgentConfig {
	return NodeAgentConfig{
		NodeID:                 getEnv("NODE_ID", "node-1"),
		ListenAddr:             getEnv("NODE_AGENT_ADDR", ":7070"),
		AdvertiseAddr:          getEnv("NODE_ADVERTISE_ADDR", "localhost:7070"),
		ControlPlaneAddr:       getEnv("CONTROL_PLANE_ADDR", "http://localhost:7080"),
		StatusReportInterval:   time.Duration(getEnvInt("STATUS_REPORT_INTERVAL_SECS", 10)) * time.Second,
		MaxInstances:           getEnvInt("NODE_MAX_INSTANCES", 0),
		AdvertisedCapabilities: splitCSV(os.Getenv("NODE_CAPABILITIES")),
		GCRetention:            time.Duration(getEnvInt("INSTANCE_GC_RETENTION_SECS", 3600)) * time.Second,
		GCSchedule:             getEnv("INSTANCE_GC_SCHEDULE", "@every 5m"),
		MetricsAddr:            getEnv("NODE_AGENT_METRICS_ADDR", ":9070"),
	}
}

// ControlPlaneConfig holds the Control Plane's process-boundary configuration.
type ControlPlaneConfig struct {
	ListenAddr         string
	StaticNodeAgents   []string
	UseEtcd            bool
	EtcdEndpoints      []string
	EtcdUsername       string
	EtcdPassword       string
	StaleNodeInterval  time.Duration
	StaleNodeThreshold time.Duration
	StaleNodeSchedule  string
	RPCTimeout         time.Duration
	MetricsAddr        string
}

// LoadControlPlaneConfig reads CONTROL_PLANE_ADDR (as listen addr),
// STATIC_NODE_AGENTS, USE_ETCD, ETCD_ENDPOINTS, ETCD_USERNAME/PASSWORD,
// STALE_NODE_THRESHOLD_SECS, STALE_NODE_SCHEDULE, RPC_TIMEOUT_SECS, and
// CONTROL_PLANE_METRICS_ADDR.
func LoadControlPlaneConfig() ControlPlaneConfig {
	return ControlPlaneConfig{
		ListenAddr:         getEnv("CONTROL_PLANE_ADDR", ":7080"),
		StaticNodeAgents:   splitCSV(os.Getenv("STATIC_NODE_AGENTS")),
		UseEtcd:            getEnvBool("USE_ETCD", false),
		EtcdEndpoints:      splitCSV(os.Getenv("ETCD_ENDPOINTS")),
		EtcdUsername:       os.Getenv("ETCD_USERNAME"),
		EtcdPassword:       os.Getenv("ETCD_PASSWORD"),
		StaleNodeInterval:  time.Duration(getEnvInt("STALE_NODE_SWEEP_SECS", 30)) * time.Second,
		StaleNodeThreshold: time.Duration(getEnvInt("STALE_NODE_THRESHOLD_SECS", 90)) * time.Second,
		StaleNodeSchedule:  getEnv("STALE_NODE_SCHEDULE", "@every 30s"),
		RPCTimeout:         time.Duration(getEnvInt("RPC_TIMEOUT_SECS", 5)) * time.Second,
		MetricsAddr:        getEnv("CONTROL_PLANE_METRICS_ADDR", ":9080"),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
