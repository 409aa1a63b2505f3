// Package reaper runs the Control Plane's stale-node sweep: a periodic
// cron job that proactively flips a node's availability flag once its
// heartbeat has lapsed. It never removes a node record or
// its assigned instances — only the availability flag that candidate
// selection consults.
package reaper

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mo3789530/wasmatrix/internal/controlplane/routing"
	"github.com/mo3789530/wasmatrix/internal/logging"
)

// Reaper periodically downgrades nodes whose last heartbeat is older than
// Threshold.
type Reaper struct {
	repo      *routing.Repository
	threshold time.Duration
	log       *logging.Logger
	cron      *cron.Cron
}

// New constructs a Reaper. threshold is the max heartbeat age before a node
// is marked unavailable; schedule is anything cron/v3's default parser
// accepts: a standard 5-field expression without a seconds field ("* * * * *"
// runs the sweep once a minute) or a descriptor such as "@every 30s".
func New(repo *routing.Repository, threshold time.Duration, schedule string, log *logging.Logger) (*Reaper, error) {
	r := &Reaper{repo: repo, threshold: threshold, log: log, cron: cron.New()}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the cron schedule in the background.
func (r *Reaper) Start() { r.cron.Start() }

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (r *Reaper) Stop() { <-r.cron.Stop().Done() }

func (r *Reaper) sweep() {
	now := time.Now()
	var downgraded int
	for _, node := range r.repo.All() {
		if !node.Available {
			continue
		}
		if now.Sub(node.LastHeartbeat) > r.threshold {
			r.repo.SetAvailable(node.NodeID, false)
			downgraded++
		}
	}
	if downgraded > 0 {
		r.log.With("count", downgraded).Infof("stale-node reaper downgraded unreachable nodes")
	}
}
