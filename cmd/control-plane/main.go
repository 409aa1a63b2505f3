// Command control-plane runs the wasmatrix Control Plane process: the node
// registry, candidate selection and RPC dispatch, authoritative instance
// metadata, and the optional etcd mirror.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mo3789530/wasmatrix/internal/config"
	"github.com/mo3789530/wasmatrix/internal/controlplane/etcdmirror"
	"github.com/mo3789530/wasmatrix/internal/controlplane/reaper"
	"github.com/mo3789530/wasmatrix/internal/controlplane/routing"
	"github.com/mo3789530/wasmatrix/internal/controlplane/server"
	"github.com/mo3789530/wasmatrix/internal/controlplane/state"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
)

func main() {
	config.LoadDotEnv("")
	cfg := config.LoadControlPlaneConfig()

	log := logging.NewDefault("control-plane")
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewControlPlaneMetrics(registry)

	repo := routing.NewRepository()
	store := state.New()
	transport := routing.NewHTTPTransport(cfg.RPCTimeout)
	routingSvc := routing.New(repo, store, transport, log, metrics)

	var mirrorEndpoints []string
	if cfg.UseEtcd {
		mirrorEndpoints = cfg.EtcdEndpoints
	}
	mirror, err := etcdmirror.New(etcdmirror.Config{
		Endpoints: mirrorEndpoints,
		Username:  cfg.EtcdUsername,
		Password:  cfg.EtcdPassword,
	})
	if err != nil {
		log.Errorf("etcd mirror init failed: %v", err)
		os.Exit(1)
	}
	defer mirror.Close()
	routingSvc.WithMirror(mirror)

	svc := server.New(server.Deps{
		Addr:    cfg.ListenAddr,
		Routing: routingSvc,
		Store:   store,
		Log:     log,
		Metrics: metrics,
	})

	staleReaper, err := reaper.New(repo, cfg.StaleNodeThreshold, cfg.StaleNodeSchedule, log)
	if err != nil {
		log.Errorf("stale-node reaper init failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i, addr := range cfg.StaticNodeAgents {
		nodeID := fmt.Sprintf("static-%d", i)
		if err := routingSvc.RegisterNode(ctx, nodeID, addr, nil, 0); err != nil {
			log.With("node_address", addr).Warnf("static node registration failed: %v", err)
		}
	}

	if err := svc.Start(ctx); err != nil {
		log.Errorf("control plane start failed: %v", err)
		os.Exit(1)
	}
	staleReaper.Start()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("metrics server stopped: %v", err)
		}
	}()
	log.With("addr", cfg.MetricsAddr).Infof("control plane metrics listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infof("control plane shutting down")
	staleReaper.Stop()
	if err := svc.Stop(); err != nil {
		log.Warnf("control plane stop error: %v", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
