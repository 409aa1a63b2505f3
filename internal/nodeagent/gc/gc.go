// Package gc schedules the Node Agent's stopped-instance retirement sweep
// (handle, crash history, event log; crashed instances are skipped) with
// robfig/cron, mirroring the Control Plane's reaper package.
package gc

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/instance"
)

// Scheduler periodically retires stopped instances older than Retention.
type Scheduler struct {
	manager   *instance.Manager
	retention time.Duration
	log       *logging.Logger
	cron      *cron.Cron
}

// New constructs a Scheduler. retention bounds how long a stopped instance's
// handle, crash history, and event log are kept before the sweep retires
// them.
func New(manager *instance.Manager, retention time.Duration, schedule string, log *logging.Logger) (*Scheduler, error) {
	s := &Scheduler{manager: manager, retention: retention, log: log, cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

func (s *Scheduler) sweep() {
	retired := s.manager.GC(time.Now().Add(-s.retention))
	if retired > 0 {
		s.log.With("count", retired).Infof("node agent gc sweep complete")
	}
}
