package tracker

import (
	"fmt"
	"sort"
	"time"
)

// Store is the authoritative map from operation id to Record for one
// feature area.
//
// Store is single-writer and has no internal locking. It must be owned by
// exactly one Executor (or used from one goroutine).
type Store struct {
	area    string
	records map[string]*Record
}

// NewStore creates an empty store for a feature area.
func NewStore(area string) *Store {
	return &Store{
		area:    area,
		records: make(map[string]*Record),
	}
}

// Area returns the feature area the store belongs to.
func (s *Store) Area() string {
	return s.area
}

// Register inserts a new Pending record.
// Returns a ProgrammerError if the id is already present or the record is
// not Pending.
func (s *Store) Register(rec *Record) error {
	if rec.State != StatePending {
		return &ProgrammerError{
			Code:    ErrCodeNotPending,
			Message: fmt.Sprintf("cannot register a %s record", rec.State),
			ID:      rec.ID,
		}
	}
	if _, exists := s.records[rec.ID]; exists {
		return &ProgrammerError{
			Code:    ErrCodeDuplicateID,
			Message: fmt.Sprintf("id already registered in area %q", s.area),
			ID:      rec.ID,
		}
	}
	s.records[rec.ID] = rec
	return nil
}

// Settle moves a record to its terminal state.
//
// Returns ErrNotFound if the id is absent; callers treat that as a late
// completion racing a cleanup and drop it. Returns a ProgrammerError if the
// record is already terminal; the record is left untouched.
func (s *Store) Settle(id string, o Outcome, at time.Time) (*Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("settle %s: %w", id, ErrNotFound)
	}
	if err := rec.settle(o, at); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the record for id.
func (s *Store) Get(id string) (*Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Remove deletes the record unconditionally.
// Returns the removed record and whether anything was removed.
func (s *Store) Remove(id string) (*Record, bool) {
	rec, ok := s.records[id]
	if ok {
		delete(s.records, id)
	}
	return rec, ok
}

// All returns every record in creation order (Seq ASC, ID ASC).
func (s *Store) All() []*Record {
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}
