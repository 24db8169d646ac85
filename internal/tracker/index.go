package tracker

import "time"

// Index maps a signature to the id of its single live record.
//
// The index is derived state: Find always confirms a slot against the Store,
// and Rebuild recomputes every slot from it. When the two disagree, the
// Store wins and the stale slot is dropped.
//
// Like Store, Index is single-writer and has no internal locking.
type Index struct {
	store *Store
	slots map[Signature]string
}

// NewIndex creates an empty index over a store.
func NewIndex(store *Store) *Index {
	return &Index{
		store: store,
		slots: make(map[Signature]string),
	}
}

// Find returns the id of the record answering sig, if it can be reused.
//
// A record can be reused while it is Pending (in-flight dedup), or terminal
// and not yet evicted. A retained record whose window has elapsed is no longer
// reusable even before the collector sweeps it.
func (x *Index) Find(sig Signature, now time.Time) (string, bool) {
	id, ok := x.slots[sig]
	if !ok {
		return "", false
	}
	rec, ok := x.store.Get(id)
	if !ok || rec.Signature() != sig || rec.expired(now) {
		delete(x.slots, sig)
		return "", false
	}
	return id, true
}

// Touch records a reuse of id. It never alters SettledAt, so reuse does not
// extend the retention window.
func (x *Index) Touch(id string, now time.Time) {
	rec, ok := x.store.Get(id)
	if !ok {
		return
	}
	rec.Touches++
	rec.LastTouchedAt = now
}

// Put assigns the slot for sig to id, replacing any previous occupant.
func (x *Index) Put(sig Signature, id string) {
	x.slots[sig] = id
}

// Drop clears the slot for sig if it still points at id.
func (x *Index) Drop(sig Signature, id string) {
	if x.slots[sig] == id {
		delete(x.slots, sig)
	}
}

// Len returns the number of occupied slots.
func (x *Index) Len() int {
	return len(x.slots)
}

// Rebuild recomputes every slot from the store. When several records share
// a signature, the newest reusable one wins.
func (x *Index) Rebuild(now time.Time) {
	x.slots = make(map[Signature]string, x.store.Len())
	for _, rec := range x.store.All() {
		if rec.expired(now) {
			continue
		}
		x.slots[rec.Signature()] = rec.ID
	}
}
