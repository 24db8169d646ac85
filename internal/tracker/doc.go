// Package tracker implements the asynchronous request lifecycle and cache.
//
// A tracker issues remote operations through a Transport, exposes each
// operation's Pending/Fulfilled/Failed state to readers, deduplicates identical
// operations by (method, endpoint) signature, and optionally retains settled
// results for a bounded window before the garbage collector reclaims them.
//
// ARCHITECTURE:
//
// Single-Writer Store:
// Each feature area owns one Executor, and each Executor owns exactly one
// Store and its derived Index. The Store has no internal locking; every read
// and mutation goes through the Executor, which serializes them with a single
// mutex. Stores of different areas never share ids or signature slots.
//
// Settlement Flow:
//  1. Dispatch consults the Index; a live record for the signature answers it
//  2. Otherwise a Pending record is registered and the transport call starts
//     in its own goroutine
//  3. The call's outcome is classified and enqueued to the FIFO settlement queue
//  4. Executor.Run (or Flush) dequeues settlements one at a time and applies
//     them to the Store
//  5. A settlement whose record was already removed is logged and dropped
//
// Transport calls run concurrently; their completions are serialized through
// the queue, so every record update is atomic. Nothing orders the completions
// of two independent operations.
//
// Cancellation:
// Transports are not abortable. Removing a record (Cleanup without retention)
// turns its eventual completion into a no-op. There is no timeout: a transport
// that never returns leaves its record Pending.
//
// Garbage Collection:
// Sweep removes terminal records that are not retained, or whose retention
// window (measured from settlement, never refreshed by reuse) has elapsed.
// Pending records are never swept. Sweep is lazy by default; Collector runs
// it on a ticker instead.
package tracker
