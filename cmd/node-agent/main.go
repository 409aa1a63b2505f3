// Command node-agent runs the wasmatrix Node Agent process: local instance
// execution, capability enforcement, and the heartbeat client that reports
// to a Control Plane.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mo3789530/wasmatrix/internal/config"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/capability"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/engine"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/gc"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/instance"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/provider"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/server"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/status"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
)

func main() {
	config.LoadDotEnv("")
	cfg := config.LoadNodeAgentConfig()

	log := logging.NewDefault("node-agent")
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewNodeAgentMetrics(registry)

	eng := engine.NewInMemoryEngine()
	manager := instance.NewManager(eng, log, metrics, cfg.MaxInstances)

	capRegistry := capability.NewRegistry()
	enforcer := capability.NewEnforcer(capRegistry, 0, 0, metrics)
	lifecycle := capability.NewProviderLifecycle()
	dispatcher := provider.NewDispatcher(nil)

	statusClient := status.NewClient(cfg.NodeID, cfg.ControlPlaneAddr, cfg.StatusReportInterval, manager, log, metrics)

	supervisor := instance.NewSupervisor(manager, log, metrics)
	supervisor.OnStateChange(func(instanceID string) {
		statusClient.ReportNow(context.Background(), instanceID)
	})

	svc := server.New(server.Deps{
		NodeID:       cfg.NodeID,
		Addr:         cfg.ListenAddr,
		Manager:      manager,
		Capabilities: capRegistry,
		Enforcer:     enforcer,
		Providers:    lifecycle,
		Dispatcher:   dispatcher,
		StatusClient: statusClient,
		Log:          log,
		Metrics:      metrics,
	})

	gcScheduler, err := gc.New(manager, cfg.GCRetention, cfg.GCSchedule, log)
	if err != nil {
		log.Errorf("gc scheduler init failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Errorf("node agent start failed: %v", err)
		os.Exit(1)
	}
	gcScheduler.Start()

	// Announce this node to the Control Plane, retrying until it is
	// reachable; heartbeats from an unregistered node are rejected.
	go func() {
		for {
			err := statusClient.RegisterSelf(ctx, cfg.AdvertiseAddr, cfg.AdvertisedCapabilities, uint32(cfg.MaxInstances))
			if err == nil {
				log.With("control_plane", cfg.ControlPlaneAddr).Infof("node registered")
				return
			}
			log.Warnf("node registration failed, retrying: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("metrics server stopped: %v", err)
		}
	}()
	log.With("addr", cfg.MetricsAddr).Infof("node agent metrics listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infof("node agent shutting down")
	supervisor.Stop()
	gcScheduler.Stop()
	if err := svc.Stop(); err != nil {
		log.Warnf("node agent stop error: %v", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
