package sshsession

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepInterval is how often the evictor scans the registry. A session
// outlives DefaultIdleTimeout by at most one interval.
const DefaultSweepInterval = time.Minute

// Evictor periodically removes idle sessions from a Registry.
type Evictor struct {
	reg       *Registry
	threshold time.Duration
	interval  time.Duration
}

// NewEvictor creates an evictor. Zero values select the defaults.
func NewEvictor(reg *Registry, threshold, interval time.Duration) *Evictor {
	if threshold <= 0 {
		threshold = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Evictor{reg: reg, threshold: threshold, interval: interval}
}

// Spec returns the cron schedule the evictor runs on.
func (e *Evictor) Spec() string {
	return "@every " + e.interval.String()
}

// Register schedules the sweep on c. The caller starts and stops c.
func (e *Evictor) Register(c *cron.Cron) (cron.EntryID, error) {
	id, err := c.AddFunc(e.Spec(), func() { e.SweepOnce() })
	if err != nil {
		return 0, fmt.Errorf("schedule idle sweep: %w", err)
	}
	log.Printf("[evictor] idle sweep scheduled %s (threshold %s)", e.Spec(), e.threshold)
	return id, nil
}

// SweepOnce runs a single sweep and returns the number of evicted sessions.
func (e *Evictor) SweepOnce() int {
	n := e.reg.SweepIdle(e.threshold)
	if n > 0 {
		log.Printf("[evictor] evicted %d idle session(s), %d remaining", n, e.reg.Len())
	}
	return n
}
