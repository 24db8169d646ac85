package tracker

import (
	"context"
	"log/slog"
	"time"
)

// Sweep removes every terminal record that is not retained, or whose
// retention window has elapsed (now - SettledAt > RetentionTTL), together
// with its index slot. Pending records are never removed.
//
// Returns snapshots of the removed records in creation order.
func Sweep(store *Store, index *Index, now time.Time) []Snapshot {
	var removed []Snapshot
	for _, rec := range store.All() {
		if !sweepable(rec, now) {
			continue
		}
		store.Remove(rec.ID)
		index.Drop(rec.Signature(), rec.ID)
		removed = append(removed, rec.Snapshot())
	}
	return removed
}

func sweepable(rec *Record, now time.Time) bool {
	if rec.State == StatePending {
		return false
	}
	if !rec.Retained {
		return true
	}
	return now.Sub(rec.SettledAt) > rec.RetentionTTL
}

// DefaultSweepInterval is the Collector tick when none is configured.
const DefaultSweepInterval = 30 * time.Second

// Collector sweeps an executor on a ticker. It is the timer-driven
// alternative to sweeping lazily before each dispatch.
type Collector struct {
	exec     *Executor
	interval time.Duration
	logger   *slog.Logger
}

// NewCollector creates a collector for exec. A non-positive interval uses
// DefaultSweepInterval.
func NewCollector(exec *Executor, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Collector{
		exec:     exec,
		interval: interval,
		logger:   exec.logger,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := len(c.exec.Sweep()); n > 0 {
				c.logger.Debug("collector swept records",
					"area", c.exec.Area(),
					"removed", n,
				)
			}
		}
	}
}
