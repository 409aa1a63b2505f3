// Package instance implements the Node Agent's instance manager: the
// live-instance map, the crashed-marker map, lifecycle events, and
// restart-policy enforcement. Status is always the live runtime fact — there
// is no separate desired-state document to reconcile against.
package instance

import (
	"context"
	"sync"
	"time"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/engine"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
	"github.com/mo3789530/wasmatrix/internal/wasmerr"
)

// Handle is the Node Agent's live record for one instance: its compiled
// module, runtime store, and the configuration it was started with. A handle
// lives in exactly one of the manager's running and stopped maps; the
// crashed map holds only markers — see Manager below.
type Handle struct {
	InstanceID     string
	ModuleBytes    []byte
	CompiledModule engine.CompiledModule
	RuntimeStore   engine.RuntimeStore
	Capabilities   []domain.CapabilityAssignment
	RestartPolicy  domain.RestartPolicy
	CreatedAt      time.Time
}

// Manager owns the live state of every instance on this node. A single
// sync.RWMutex guards all three maps together so that a status read sees one
// consistent snapshot. A crashed instance keeps its handle in running or
// stopped while its id is also in crashed; status precedence
// (Crashed > Running > Stopped) resolves such an instance to Crashed.
type Manager struct {
	mu sync.RWMutex

	running map[string]*Handle
	stopped map[string]*Handle
	crashed map[string]struct{}

	crashes *CrashTracker
	events  *EventRecorder
	engine  engine.Engine

	log     *logging.Logger
	metrics *obsmetrics.NodeAgentMetrics

	maxInstances int
}

// NewManager constructs an empty Manager. maxInstances of 0 means unbounded.
func NewManager(eng engine.Engine, log *logging.Logger, metrics *obsmetrics.NodeAgentMetrics, maxInstances int) *Manager {
	return &Manager{
		running:      make(map[string]*Handle),
		stopped:      make(map[string]*Handle),
		crashed:      make(map[string]struct{}),
		crashes:      NewCrashTracker(),
		events:       NewEventRecorder(),
		engine:       eng,
		log:          log,
		metrics:      metrics,
		maxInstances: maxInstances,
	}
}

// Events exposes the underlying recorder for read-only consumers (status
// reporting, debugging endpoints).
func (m *Manager) Events() *EventRecorder { return m.events }

// ActiveCount returns the number of instances presently in the running map,
// the figure the Control Plane's candidate-selection sort key mirrors
// locally for max_instances enforcement.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// StartInstance compiles and instantiates moduleBytes under instanceID,
// recording it as running. instanceID must not already be present in any of
// the three maps.
func (m *Manager) StartInstance(ctx context.Context, instanceID string, moduleBytes []byte, capabilities []domain.CapabilityAssignment, policy domain.RestartPolicy) error {
	m.mu.Lock()
	if m.exists(instanceID) {
		m.mu.Unlock()
		return wasmerr.New(wasmerr.InvalidRequest, "instance_id already in use").WithDetails("instance_id", instanceID)
	}
	if m.maxInstances > 0 && len(m.running) >= m.maxInstances {
		m.mu.Unlock()
		return wasmerr.New(wasmerr.ResourceExhausted, "node at max_instances capacity")
	}
	m.mu.Unlock()

	// Compile/instantiate outside the lock: these may block on I/O and must
	// not stall status queries for unrelated instances.
	compiled, err := m.engine.Compile(ctx, moduleBytes)
	if err != nil {
		return wasmerr.Wrap(wasmerr.WasmRuntimeError, "module compile failed", err)
	}
	store, err := m.engine.Instantiate(ctx, compiled)
	if err != nil {
		return wasmerr.Wrap(wasmerr.WasmRuntimeError, "module instantiate failed", err)
	}

	handle := &Handle{
		InstanceID:     instanceID,
		ModuleBytes:    moduleBytes,
		CompiledModule: compiled,
		RuntimeStore:   store,
		Capabilities:   capabilities,
		RestartPolicy:  policy,
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	if m.exists(instanceID) {
		// Lost a race with a concurrent StartInstance for the same id while
		// the lock was released above.
		m.mu.Unlock()
		_ = store.Close()
		return wasmerr.New(wasmerr.InvalidRequest, "instance_id already in use").WithDetails("instance_id", instanceID)
	}
	m.running[instanceID] = handle
	m.mu.Unlock()

	m.events.Append(domain.EventInstanceStarted, instanceID, nil)
	if m.metrics != nil {
		m.metrics.InstancesRunning.Set(float64(m.ActiveCount()))
	}
	m.log.With("instance_id", instanceID).Infof("instance started")
	return nil
}

// exists reports whether instanceID is present in any of the three maps.
// Callers must hold m.mu.
func (m *Manager) exists(instanceID string) bool {
	if _, ok := m.running[instanceID]; ok {
		return true
	}
	if _, ok := m.stopped[instanceID]; ok {
		return true
	}
	if _, ok := m.crashed[instanceID]; ok {
		return true
	}
	return false
}

// StopInstance moves instanceID from running to stopped, closing its runtime
// store and removing any crash marker. Stopping an already-stopped instance
// is idempotent; stopping an unknown instance_id is INSTANCE_NOT_FOUND.
func (m *Manager) StopInstance(instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if handle, ok := m.running[instanceID]; ok {
		_ = handle.RuntimeStore.Close()
		delete(m.running, instanceID)
		delete(m.crashed, instanceID)
		m.stopped[instanceID] = handle
		m.events.Append(domain.EventInstanceStopped, instanceID, nil)
		if m.metrics != nil {
			m.metrics.InstancesRunning.Set(float64(len(m.running)))
		}
		return nil
	}
	if _, ok := m.stopped[instanceID]; ok {
		delete(m.crashed, instanceID)
		return nil
	}
	return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
}

// Status reports the status of instanceID using the fixed precedence
// Crashed > Running > Stopped. An id absent from every map is Stopped: the
// answer is always the actual runtime fact, never an error about missing
// bookkeeping.
func (m *Manager) Status(instanceID string) domain.InstanceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.crashed[instanceID]; ok {
		return domain.StatusCrashed
	}
	if _, ok := m.running[instanceID]; ok {
		return domain.StatusRunning
	}
	return domain.StatusStopped
}

// List returns metadata for every instance known to this node, in no
// particular order, for ListInstances.
func (m *Manager) List() []domain.InstanceMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.InstanceMetadata, 0, len(m.running)+len(m.stopped))
	for id, h := range m.running {
		if _, crashed := m.crashed[id]; crashed {
			continue
		}
		out = append(out, m.metadataLocked(id, h, domain.StatusRunning))
	}
	for id, h := range m.stopped {
		if _, crashed := m.crashed[id]; crashed {
			continue
		}
		out = append(out, m.metadataLocked(id, h, domain.StatusStopped))
	}
	for id := range m.crashed {
		h, ok := m.running[id]
		if !ok {
			h = m.stopped[id]
		}
		if h == nil {
			continue
		}
		out = append(out, m.metadataLocked(id, h, domain.StatusCrashed))
	}
	return out
}

func (m *Manager) metadataLocked(id string, h *Handle, status domain.InstanceStatus) domain.InstanceMetadata {
	return domain.InstanceMetadata{
		InstanceID: id,
		ModuleHash: h.CompiledModule.ModuleHash(),
		CreatedAt:  h.CreatedAt,
		Status:     status,
	}
}

// Metadata returns instanceID's current InstanceMetadata using the same
// Crashed > Running > Stopped precedence as Status.
func (m *Manager) Metadata(instanceID string) (domain.InstanceMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.crashed[instanceID]; ok {
		h, ok := m.running[instanceID]
		if !ok {
			h, ok = m.stopped[instanceID]
		}
		if !ok {
			return domain.InstanceMetadata{}, wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
		}
		return m.metadataLocked(instanceID, h, domain.StatusCrashed), nil
	}
	if h, ok := m.running[instanceID]; ok {
		return m.metadataLocked(instanceID, h, domain.StatusRunning), nil
	}
	if h, ok := m.stopped[instanceID]; ok {
		return m.metadataLocked(instanceID, h, domain.StatusStopped), nil
	}
	return domain.InstanceMetadata{}, wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
}

// Handle returns the live Handle for instanceID if it is running, for
// capability-invocation lookups.
func (m *Manager) Handle(instanceID string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.running[instanceID]
	return h, ok
}

// OnCrash marks instanceID crashed, records the crash in the crash tracker,
// and evaluates the restart policy. The handle stays in its map so the
// restart path can re-read module bytes and policy from it; only the
// crashed marker changes the reported status. If the policy calls for a
// restart, the caller is responsible for actually invoking RestartInstance
// after the returned delay elapses — this method never sleeps itself, so
// that the caller's scheduler (not this lock) owns timing.
func (m *Manager) OnCrash(instanceID string, reason string) (delay time.Duration, shouldRestart bool, err error) {
	m.mu.Lock()
	handle, ok := m.running[instanceID]
	if !ok {
		handle, ok = m.stopped[instanceID]
	}
	if !ok {
		m.mu.Unlock()
		return 0, false, wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}
	m.crashed[instanceID] = struct{}{}
	policy := handle.RestartPolicy
	m.mu.Unlock()

	info := m.crashes.RecordCrash(instanceID)
	m.events.Append(domain.EventInstanceCrashed, instanceID, map[string]string{"reason": reason})
	if m.metrics != nil {
		m.metrics.InstancesCrashed.WithLabelValues(reason).Inc()
	}
	m.log.With("instance_id", instanceID).With("crash_count", info.CrashCount).Warnf("instance crashed: %s", reason)

	delaySeconds, restart := ShouldRestart(policy, info)
	if !restart {
		return 0, false, nil
	}
	return time.Duration(delaySeconds) * time.Second, true, nil
}

// RestartInstance re-instantiates instanceID from its last known module
// bytes and clears the crashed marker. The crash count itself is preserved
// across the restart: only OnCrash increments it, and a
// successful restart does not reset it back to zero.
func (m *Manager) RestartInstance(ctx context.Context, instanceID string) error {
	m.mu.RLock()
	handle, ok := m.running[instanceID]
	if !ok {
		handle, ok = m.stopped[instanceID]
	}
	m.mu.RUnlock()
	if !ok {
		return wasmerr.New(wasmerr.InstanceNotFound, "instance not found").WithDetails("instance_id", instanceID)
	}

	compiled, err := m.engine.Compile(ctx, handle.ModuleBytes)
	if err != nil {
		return wasmerr.Wrap(wasmerr.WasmRuntimeError, "module recompile failed on restart", err)
	}
	store, err := m.engine.Instantiate(ctx, compiled)
	if err != nil {
		return wasmerr.Wrap(wasmerr.WasmRuntimeError, "module reinstantiate failed on restart", err)
	}

	restarted := &Handle{
		InstanceID:     instanceID,
		ModuleBytes:    handle.ModuleBytes,
		CompiledModule: compiled,
		RuntimeStore:   store,
		Capabilities:   handle.Capabilities,
		RestartPolicy:  handle.RestartPolicy,
		CreatedAt:      handle.CreatedAt,
	}

	m.mu.Lock()
	delete(m.crashed, instanceID)
	delete(m.stopped, instanceID)
	_ = handle.RuntimeStore.Close()
	m.running[instanceID] = restarted
	m.mu.Unlock()

	// The restart is a stop+start of the same identifier; the event log
	// records all three facts in order.
	m.events.Append(domain.EventInstanceStopped, instanceID, nil)
	m.events.Append(domain.EventInstanceStarted, instanceID, nil)
	m.events.Append(domain.EventInstanceRestarted, instanceID, nil)
	if m.metrics != nil {
		m.metrics.Restarts.Inc()
		m.metrics.InstancesRunning.Set(float64(m.ActiveCount()))
	}
	m.log.With("instance_id", instanceID).Infof("instance restarted")
	return nil
}

// CrashInfo exposes the crash history for instanceID, used by status
// reporting and tests.
func (m *Manager) CrashInfo(instanceID string) domain.CrashInfo {
	return m.crashes.Get(instanceID)
}

// GC retires every stopped instance whose handle is older than before,
// dropping its handle (whose runtime store was already closed at stop), its
// crash history, and its event log. A crashed instance is never retired by age alone — only a
// subsequent explicit stop moves it out of the crashed map. Returns the
// number of instances retired.
func (m *Manager) GC(before time.Time) int {
	m.mu.Lock()
	var retired []string
	for id, h := range m.stopped {
		if _, crashed := m.crashed[id]; crashed {
			continue
		}
		if h.CreatedAt.Before(before) {
			retired = append(retired, id)
		}
	}
	for _, id := range retired {
		delete(m.stopped, id)
	}
	m.mu.Unlock()

	for _, id := range retired {
		m.crashes.Reset(id)
		m.events.Clear(id)
	}
	if len(retired) > 0 {
		m.log.With("count", len(retired)).Infof("instance gc retired stopped instances")
	}
	return len(retired)
}
