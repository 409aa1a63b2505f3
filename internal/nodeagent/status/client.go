// Package status implements the Node Agent's status-report client: a
// periodic heartbeat ticker plus immediate delta reports on locally
// handled start/stop, posted to the Control Plane over HTTP. The client is
// lossy by design — a send failure is logged and the next tick retries with
// fresh state; there is no per-message retry or durable queue.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/instance"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
	"github.com/mo3789530/wasmatrix/internal/wire"
)

// Client owns the periodic heartbeat task for one Node Agent process,
// following the same ticker-goroutine lifecycle shape as the rest of this
// family of services' background refreshers.
type Client struct {
	nodeID           string
	controlPlaneAddr string
	interval         time.Duration
	manager          *instance.Manager
	httpClient       *http.Client
	log              *logging.Logger
	metrics          *obsmetrics.NodeAgentMetrics
	sampleHost       bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewClient constructs a status-report client. interval of 0 defaults to
// 10s, the STATUS_REPORT_INTERVAL_SECS default.
func NewClient(nodeID, controlPlaneAddr string, interval time.Duration, manager *instance.Manager, log *logging.Logger, metrics *obsmetrics.NodeAgentMetrics) *Client {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Client{
		nodeID:           nodeID,
		controlPlaneAddr: controlPlaneAddr,
		interval:         interval,
		manager:          manager,
		httpClient:       &http.Client{Timeout: 5 * time.Second},
		log:              log,
		metrics:          metrics,
		sampleHost:       true,
	}
}

// Start launches the ticker goroutine. It is idempotent: calling Start twice
// without an intervening Stop is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.sendFullReport(runCtx)
			}
		}
	}()
}

// Stop cancels the heartbeat goroutine and waits for it to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.running = false
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// RegisterSelf announces this node to the Control Plane. It must succeed
// before status reports are accepted, since the Control Plane rejects
// reports from nodes it has never seen.
func (c *Client) RegisterSelf(ctx context.Context, advertiseAddr string, capabilities []string, maxInstances uint32) error {
	req := wire.RegisterNodeRequest{
		NodeID:       c.nodeID,
		NodeAddress:  advertiseAddr,
		Capabilities: capabilities,
		MaxInstances: maxInstances,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("status client: marshal register request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.controlPlaneAddr+"/v1/nodes/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("status client: build register request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("status client: register: %w", err)
	}
	defer resp.Body.Close()

	var out wire.RegisterNodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("status client: decode register response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("status client: registration rejected: %s", out.Message)
	}
	return nil
}

// ReportNow sends an immediate delta report carrying only instanceID's
// current status, in response to a locally handled StartInstance/StopInstance.
func (c *Client) ReportNow(ctx context.Context, instanceID string) {
	report := wire.StatusReport{
		NodeID:    c.nodeID,
		Timestamp: time.Now().Unix(),
		InstanceUpdates: []wire.InstanceStatusUpdate{
			{InstanceID: instanceID, Status: wire.FromDomainStatus(c.manager.Status(instanceID))},
		},
	}
	c.send(ctx, report)
}

// sendFullReport builds one InstanceStatusUpdate per instance known to this
// node and posts the heartbeat.
func (c *Client) sendFullReport(ctx context.Context) {
	metas := c.manager.List()
	updates := make([]wire.InstanceStatusUpdate, 0, len(metas))
	for _, m := range metas {
		updates = append(updates, wire.InstanceStatusUpdate{InstanceID: m.InstanceID, Status: wire.FromDomainStatus(m.Status)})
	}
	report := wire.StatusReport{
		NodeID:          c.nodeID,
		Timestamp:       time.Now().Unix(),
		InstanceUpdates: updates,
		HostStats:       c.sampleHostStats(),
	}
	c.send(ctx, report)
}

// sampleHostStats takes a best-effort CPU/memory reading. A sampling failure is
// silently swallowed — it never blocks or fails the heartbeat itself.
func (c *Client) sampleHostStats() *wire.HostStats {
	if !c.sampleHost {
		return nil
	}
	stats := &wire.HostStats{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemUsedBytes = vm.Used
		stats.MemTotalBytes = vm.Total
	}
	return stats
}

func (c *Client) send(ctx context.Context, report wire.StatusReport) {
	body, err := json.Marshal(report)
	if err != nil {
		c.log.Warnf("status report marshal failed: %v", err)
		return
	}
	url := fmt.Sprintf("%s/v1/report-status", c.controlPlaneAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.log.Warnf("status report request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warnf("status report send failed: %v", err)
		if c.metrics != nil {
			c.metrics.HeartbeatErrors.Inc()
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warnf("status report rejected: status %d", resp.StatusCode)
		if c.metrics != nil {
			c.metrics.HeartbeatErrors.Inc()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.HeartbeatsSent.Inc()
	}
}
