package session

import (
	"context"
	"log"
	"time"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultStaleAfter    = 5 * time.Minute
)

// Sweeper periodically demotes inactive sessions. It is the only
// time-driven mutation in the system; the actual state change runs
// under the registry lock like every other mutation.
type Sweeper struct {
	registry   *Registry
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewSweeper(registry *Registry, interval, staleAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Sweeper{
		registry:   registry,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SweepNow runs one sweep pass immediately. Queries call this so
// listings reflect current staleness between ticks.
func (sw *Sweeper) SweepNow() int {
	return sw.registry.SweepStale(sw.now(), sw.staleAfter)
}

// Start runs the sweep loop until ctx is canceled.
func (sw *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	log.Printf("Stale sweeper started (interval %s, threshold %s)", sw.interval, sw.staleAfter)

	for {
		select {
		case <-ctx.Done():
			log.Println("Stale sweeper stopped")
			return
		case <-ticker.C:
			if n := sw.SweepNow(); n > 0 {
				log.Printf("Marked %d stale session(s) idle", n)
			}
		}
	}
}
