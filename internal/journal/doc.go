// Package journal records tracker lifecycle events in SQLite.
//
// The journal is an accounting log: every dispatch, dedup, settlement,
// removal and dropped late completion is appended as one row. Nothing is ever
// read back into a tracker; the in-memory store remains the only source of
// truth for record state.
//
// The database uses WAL mode so `inflight journal` can read while a
// `watch` process is writing.
package journal
