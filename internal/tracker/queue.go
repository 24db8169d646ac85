package tracker

import "sync"

// settlement carries a classified transport outcome to the single writer.
type settlement struct {
	ID      string
	Outcome Outcome
}

// settlementQueue is a thread-safe FIFO of completed transport calls.
//
// Transport goroutines enqueue; Executor.Run (or Flush) dequeues and applies.
// The queue is unbounded so a completing call never blocks.
//
// A buffered signal channel lets the Run loop wait with select alongside
// context cancellation.
type settlementQueue struct {
	mu     sync.Mutex
	items  []settlement
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newSettlementQueue() *settlementQueue {
	return &settlementQueue{
		items:  make([]settlement, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a settlement to the back of the queue.
// Returns false if the queue is closed.
func (q *settlementQueue) Enqueue(s settlement) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, s)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front settlement without blocking.
func (q *settlementQueue) TryDequeue() (settlement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return settlement{}, false
	}

	s := q.items[0]

	// Clear the slot so the backing array does not retain results.
	q.items[0] = settlement{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return s, true
}

// Wait returns a channel that signals when settlements may be available.
// The channel is closed once the queue is closed.
func (q *settlementQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *settlementQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *settlementQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting settlements and wakes any waiter.
func (q *settlementQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
