package journal

import (
	"context"
	"log/slog"

	"github.com/roach88/inflight/internal/tracker"
)

// Observer appends tracker lifecycle notifications to a journal.
//
// Write failures are logged and swallowed: the journal must never block or
// fail a tracker operation.
type Observer struct {
	journal *Journal
	ctx     context.Context
	clock   tracker.Clock
	logger  *slog.Logger
}

var _ tracker.Observer = (*Observer)(nil)

// Observer returns a tracker.Observer writing to j. Event times come from
// clock, which should be the executor's clock.
func (j *Journal) Observer(ctx context.Context, clock tracker.Clock, logger *slog.Logger) *Observer {
	if clock == nil {
		clock = tracker.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{journal: j, ctx: ctx, clock: clock, logger: logger}
}

func (o *Observer) append(ev Event) {
	if _, err := o.journal.Append(o.ctx, ev); err != nil {
		o.logger.Warn("journal append failed",
			"area", ev.Area,
			"id", ev.RecordID,
			"kind", string(ev.Kind),
			"error", err,
		)
	}
}

func (o *Observer) Dispatched(area string, snap tracker.Snapshot, deduped bool) {
	kind := KindDispatched
	if deduped {
		kind = KindDeduped
	}
	o.append(eventFromSnapshot(area, kind, snap, o.clock.Now()))
}

func (o *Observer) Settled(area string, snap tracker.Snapshot) {
	o.append(eventFromSnapshot(area, KindSettled, snap, o.clock.Now()))
}

func (o *Observer) Removed(area string, snap tracker.Snapshot, reason tracker.RemoveReason) {
	kind := KindRemoved
	if reason == tracker.RemoveSwept {
		kind = KindSwept
	}
	o.append(eventFromSnapshot(area, kind, snap, o.clock.Now()))
}

func (o *Observer) StaleCompletion(area string, id string) {
	o.append(Event{Area: area, RecordID: id, Kind: KindStale, At: o.clock.Now()})
}
