package instance

import (
	"context"
	"sync"
	"time"

	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/obsmetrics"
)

// Supervisor drives the crash path end to end: it feeds a detected crash
// into Manager.OnCrash and, when the restart policy calls for it, schedules
// Manager.RestartInstance after the computed backoff. Timing lives here, not
// in the Manager, so the live-map lock is never held across a delay.
type Supervisor struct {
	manager *Manager
	log     *logging.Logger
	metrics *obsmetrics.NodeAgentMetrics

	// notify, if set, is called after any state transition the Supervisor
	// causes (crash marked, restart completed) so the status-report client
	// can push a delta for that instance.
	notify func(instanceID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor constructs a Supervisor over manager.
func NewSupervisor(manager *Manager, log *logging.Logger, metrics *obsmetrics.NodeAgentMetrics) *Supervisor {
	return &Supervisor{
		manager: manager,
		log:     log,
		metrics: metrics,
		timers:  make(map[string]*time.Timer),
	}
}

// OnStateChange registers a callback invoked with the instance id after each
// supervisor-driven transition.
func (s *Supervisor) OnStateChange(fn func(instanceID string)) {
	s.notify = fn
}

// HandleCrash records the crash and, if the instance's restart policy allows
// another attempt, arms a timer that restarts it after the backoff delay. A
// second crash report for the same instance while a restart is pending
// replaces the pending timer with one using the new (longer) delay.
func (s *Supervisor) HandleCrash(instanceID, reason string) {
	delay, restart, err := s.manager.OnCrash(instanceID, reason)
	if err != nil {
		s.log.With("instance_id", instanceID).Warnf("crash report for unknown instance: %v", err)
		return
	}
	s.fireNotify(instanceID)

	if !restart {
		s.log.With("instance_id", instanceID).Infof("restart policy declined restart")
		return
	}
	if s.metrics != nil {
		s.metrics.RestartBackoff.Observe(delay.Seconds())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.timers[instanceID]; ok && prev.Stop() {
		s.wg.Done()
	}
	s.wg.Add(1)
	s.timers[instanceID] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.restart(instanceID)
	})
	s.mu.Unlock()

	s.log.With("instance_id", instanceID).With("delay", delay).Infof("restart scheduled")
}

func (s *Supervisor) restart(instanceID string) {
	s.mu.Lock()
	delete(s.timers, instanceID)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if err := s.manager.RestartInstance(context.Background(), instanceID); err != nil {
		s.log.With("instance_id", instanceID).Errorf("restart failed: %v", err)
		return
	}
	s.fireNotify(instanceID)
}

func (s *Supervisor) fireNotify(instanceID string) {
	if s.notify != nil {
		s.notify(instanceID)
	}
}

// Stop cancels every pending restart timer and waits for in-flight restarts
// to settle. Crashed instances stay crashed; a process restart recovers them
// through the normal start path.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
