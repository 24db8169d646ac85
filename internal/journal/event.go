package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/inflight/internal/tracker"
)

// Kind is the lifecycle event type.
type Kind string

const (
	KindDispatched Kind = "dispatched"
	KindDeduped    Kind = "deduped"
	KindSettled    Kind = "settled"
	KindRemoved    Kind = "removed"
	KindSwept      Kind = "swept"
	KindStale      Kind = "stale"
)

// Kinds lists every event kind in lifecycle order.
var Kinds = []Kind{KindDispatched, KindDeduped, KindSettled, KindRemoved, KindSwept, KindStale}

// Event is one journal row.
type Event struct {
	Seq      int64     `json:"seq"`
	Area     string    `json:"area"`
	RecordID string    `json:"record_id"`
	Kind     Kind      `json:"kind"`
	Method   string    `json:"method,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	State    string    `json:"state,omitempty"`
	Status   int       `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// eventFromSnapshot builds an event carrying a record's current fields.
func eventFromSnapshot(area string, kind Kind, snap tracker.Snapshot, at time.Time) Event {
	return Event{
		Area:     area,
		RecordID: snap.ID,
		Kind:     kind,
		Method:   string(snap.Method),
		Endpoint: snap.Endpoint,
		State:    snap.State.String(),
		Status:   snap.Status,
		Error:    snap.Error,
		At:       at,
	}
}

// Append writes an event and returns its sequence number.
func (j *Journal) Append(ctx context.Context, ev Event) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO events
		(area, record_id, kind, method, endpoint, state, status, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Area,
		ev.RecordID,
		string(ev.Kind),
		ev.Method,
		ev.Endpoint,
		ev.State,
		ev.Status,
		ev.Error,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// Filter narrows ReadEvents. Zero fields match everything.
type Filter struct {
	Area     string
	RecordID string
	Kind     Kind
	Limit    int
}

// ReadEvents returns matching events ordered by sequence.
// Returns an empty slice (not nil) if nothing matches.
func (j *Journal) ReadEvents(ctx context.Context, f Filter) ([]Event, error) {
	query := `
		SELECT seq, area, record_id, kind, method, endpoint, state, status, error, at
		FROM events
		WHERE (? = '' OR area = ?)
		  AND (? = '' OR record_id = ?)
		  AND (? = '' OR kind = ?)
		ORDER BY seq ASC`
	args := []any{f.Area, f.Area, f.RecordID, f.RecordID, string(f.Kind), string(f.Kind)}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev   Event
		kind string
		at   string
	)
	if err := rows.Scan(
		&ev.Seq,
		&ev.Area,
		&ev.RecordID,
		&kind,
		&ev.Method,
		&ev.Endpoint,
		&ev.State,
		&ev.Status,
		&ev.Error,
		&at,
	); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Kind = Kind(kind)

	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Event{}, fmt.Errorf("parse event time %q: %w", at, err)
	}
	ev.At = t
	return ev, nil
}

// CountByKind returns the number of events per kind, optionally for one area.
func (j *Journal) CountByKind(ctx context.Context, area string) (map[Kind]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM events
		WHERE (? = '' OR area = ?)
		GROUP BY kind
	`, area, area)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}
