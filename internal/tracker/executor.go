package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Executor issues transport calls and drives the records of one feature area.
//
// The Executor holds the only reference to its Store, Index and Transport.
// All store access is serialized by one mutex; transport calls run in their
// own goroutines and hand their outcomes to the settlement queue, which the
// Run loop (or Flush) applies one at a time.
//
// Thread-safety model:
//   - Dispatch, Get, Cleanup, Sweep, Await, Done: safe from any goroutine
//   - Run: call from exactly one goroutine
//   - Flush: safe alongside Run; settlements are still applied one at a time
type Executor struct {
	area            string
	transport       Transport
	clock           Clock
	ids             IDGenerator
	seq             *Sequence
	logger          *slog.Logger
	observers       []Observer
	credentials     func() string
	baseCtx         context.Context
	sweepOnDispatch bool

	mu     sync.Mutex
	store  *Store
	index  *Index
	calls  map[string]chan struct{} // outstanding transport calls, closed once processed
	idle   chan struct{}            // closed while no call is outstanding
	closed bool

	queue *settlementQueue
	group errgroup.Group
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the time source used for CreatedAt, SettledAt and retention.
func WithClock(c Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithIDGenerator sets the operation id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Executor) {
		e.ids = g
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithObserver adds lifecycle observers (metrics, journal).
func WithObserver(obs ...Observer) Option {
	return func(e *Executor) {
		e.observers = append(e.observers, obs...)
	}
}

// WithCredentials injects a read-only accessor for the current identity.
// Its value is copied into every Request that does not carry credentials.
func WithCredentials(fn func() string) Option {
	return func(e *Executor) {
		e.credentials = fn
	}
}

// WithSweepOnDispatch sweeps the store before every dispatch (lazy GC).
//
// Note that a sweep also reclaims settled records nobody has cleaned up yet,
// so a caller still reading such a record should retain it first.
func WithSweepOnDispatch(enabled bool) Option {
	return func(e *Executor) {
		e.sweepOnDispatch = enabled
	}
}

// WithBaseContext sets the context passed to transport calls.
// It carries values such as trace context; cancelling it does not cancel
// anything the tracker owns.
func WithBaseContext(ctx context.Context) Option {
	return func(e *Executor) {
		e.baseCtx = ctx
	}
}

// New creates an Executor for a feature area.
func New(area string, transport Transport, opts ...Option) *Executor {
	store := NewStore(area)
	e := &Executor{
		area:      area,
		transport: transport,
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		seq:       NewSequence(),
		logger:    slog.Default(),
		baseCtx:   context.Background(),
		store:     store,
		index:     NewIndex(store),
		calls:     make(map[string]chan struct{}),
		idle:      closedChan(),
		queue:     newSettlementQueue(),
	}

	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("area", area)

	return e
}

// Area returns the feature area name.
func (e *Executor) Area() string {
	return e.area
}

// Dispatch performs method on endpoint, or reuses the live record that
// already answers that signature. The id is returned before the transport
// call settles.
//
// Errors are ProgrammerErrors (bad method, empty endpoint, id collision) or
// ErrClosed. Transport failures never surface here; they are recorded.
func (e *Executor) Dispatch(method Method, endpoint string, body any) (string, error) {
	return e.DispatchRequest(Request{Method: method, Endpoint: endpoint, Body: body})
}

// DispatchRequest is Dispatch for a prepared Request.
func (e *Executor) DispatchRequest(req Request) (string, error) {
	sig, err := NewSignature(string(req.Method), req.Endpoint)
	if err != nil {
		return "", err
	}
	req.Method, req.Endpoint = sig.Method, sig.Endpoint

	if id, ok, err := e.reuse(sig); err != nil || ok {
		return id, err
	}

	// The id is generated outside the lock, so another dispatch may have
	// registered the same signature meanwhile. The index is checked again
	// below, immediately before registering.
	id := e.ids.Generate()
	if req.Credentials == "" && e.credentials != nil {
		req.Credentials = e.credentials()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", ErrClosed
	}

	now := e.clock.Now()
	if existing, ok := e.index.Find(sig, now); ok {
		e.touchLocked(existing)
		return existing, nil
	}

	rec := &Record{
		ID:        id,
		Method:    sig.Method,
		Endpoint:  sig.Endpoint,
		State:     StatePending,
		CreatedAt: now,
		Seq:       e.seq.Next(),
	}
	if err := e.store.Register(rec); err != nil {
		return "", err
	}
	e.index.Put(sig, id)
	e.beginCallLocked(id)
	req.ID = id

	e.logger.Debug("dispatched",
		"id", id,
		"signature", sig.String(),
		"seq", rec.Seq,
	)
	snap := rec.Snapshot()
	for _, obs := range e.observers {
		obs.Dispatched(e.area, snap, false)
	}

	e.group.Go(func() error {
		e.execute(id, req)
		return nil
	})

	return id, nil
}

// reuse answers sig from the index, sweeping first when lazy GC is on.
func (e *Executor) reuse(sig Signature) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", false, ErrClosed
	}

	now := e.clock.Now()
	if e.sweepOnDispatch {
		e.sweepLocked()
	}

	id, ok := e.index.Find(sig, now)
	if !ok {
		return "", false, nil
	}
	e.touchLocked(id)
	return id, true, nil
}

func (e *Executor) touchLocked(id string) {
	e.index.Touch(id, e.clock.Now())

	rec, ok := e.store.Get(id)
	if !ok {
		return
	}
	snap := rec.Snapshot()
	e.logger.Debug("dispatch deduplicated",
		"id", id,
		"signature", rec.Signature().String(),
		"state", rec.State.String(),
		"touches", rec.Touches,
	)
	for _, obs := range e.observers {
		obs.Dispatched(e.area, snap, true)
	}
}

// execute runs one transport call and queues its outcome.
func (e *Executor) execute(id string, req Request) {
	resp, err := e.transport.Execute(e.baseCtx, req)
	outcome := Classify(resp, err)

	if !e.queue.Enqueue(settlement{ID: id, Outcome: outcome}) {
		e.logger.Warn("settlement dropped: executor closed",
			"id", id,
			"state", outcome.State.String(),
		)
		e.mu.Lock()
		for _, obs := range e.observers {
			obs.StaleCompletion(e.area, id)
		}
		e.endCallLocked(id)
		e.mu.Unlock()
	}
}

// apply settles one record. A settlement for a removed record is a late
// completion: it is logged and dropped, and the record is not reintroduced.
func (e *Executor) apply(s settlement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.endCallLocked(s.ID)

	rec, err := e.store.Settle(s.ID, s.Outcome, e.clock.Now())
	switch {
	case errors.Is(err, ErrNotFound):
		e.logger.Info("late completion ignored",
			"id", s.ID,
			"state", s.Outcome.State.String(),
		)
		for _, obs := range e.observers {
			obs.StaleCompletion(e.area, s.ID)
		}

	case err != nil:
		// Log and continue: a rejected settlement must not take the loop down.
		e.logger.Error("settlement rejected",
			"id", s.ID,
			"error", err,
		)

	default:
		snap := rec.Snapshot()
		e.logger.Info("settled",
			"id", rec.ID,
			"signature", rec.Signature().String(),
			"state", rec.State.String(),
			"status", rec.Status,
		)
		for _, obs := range e.observers {
			obs.Settled(e.area, snap)
		}
	}
}

func (e *Executor) beginCallLocked(id string) {
	if len(e.calls) == 0 {
		e.idle = make(chan struct{})
	}
	e.calls[id] = make(chan struct{})
}

func (e *Executor) endCallLocked(id string) {
	ch, ok := e.calls[id]
	if !ok {
		return
	}
	close(ch)
	delete(e.calls, id)
	if len(e.calls) == 0 {
		close(e.idle)
	}
}

// Run applies settlements until ctx is cancelled or the executor is closed.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor starting")

	for {
		if s, ok := e.queue.TryDequeue(); ok {
			e.apply(s)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("executor stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so this fires
			// immediately once Close has run.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("executor stopping: closed")
				return nil
			}
		}
	}
}

// Flush applies every queued settlement on the caller's goroutine and
// returns how many were applied. It lets single-goroutine callers drive the
// executor without Run.
func (e *Executor) Flush() int {
	n := 0
	for {
		s, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.apply(s)
		n++
	}
}

// Get returns a snapshot of the record for id.
func (e *Executor) Get(id string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.store.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// Snapshots returns every record in creation order.
func (e *Executor) Snapshots() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs := e.store.All()
	out := make([]Snapshot, len(recs))
	for i, rec := range recs {
		out[i] = rec.Snapshot()
	}
	return out
}

// Len returns the number of records in the store.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Len()
}

// Inflight returns the number of transport calls whose outcome has not been
// applied yet, including calls whose record was already removed.
func (e *Executor) Inflight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Done returns a channel closed once the transport call behind id has been
// processed: its record settled, or its completion dropped because the record
// was removed. Unknown ids get an already closed channel.
func (e *Executor) Done(id string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.calls[id]; ok {
		return ch
	}
	return closedChan()
}

// Await blocks until the call behind id has been processed and returns the
// record. Returns ErrNotFound if the record is gone by then.
func (e *Executor) Await(ctx context.Context, id string) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-e.Done(id):
	}

	snap, ok := e.Get(id)
	if !ok {
		return Snapshot{}, fmt.Errorf("await %s: %w", id, ErrNotFound)
	}
	return snap, nil
}

// WaitIdle blocks until no transport call is outstanding.
func (e *Executor) WaitIdle(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// CleanupOption configures Cleanup.
type CleanupOption func(*cleanupOptions)

type cleanupOptions struct {
	retain bool
	ttl    time.Duration
}

// Retain keeps the record for reuse until ttl has elapsed after settlement.
func Retain(ttl time.Duration) CleanupOption {
	return func(o *cleanupOptions) {
		o.retain = true
		o.ttl = ttl
	}
}

// Cleanup releases the caller's interest in id.
//
// Without retention the record and its signature slot are removed
// immediately; a Pending record's eventual completion then becomes a no-op.
// With Retain(ttl) the record is marked retained and stays reusable until
// the garbage collector reclaims it. Cleaning up an absent id is a no-op.
func (e *Executor) Cleanup(id string, opts ...CleanupOption) error {
	var o cleanupOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.retain && o.ttl < 0 {
		return &ProgrammerError{
			Code:    ErrCodeInvalidTTL,
			Message: fmt.Sprintf("negative retention %s", o.ttl),
			ID:      id,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.store.Get(id)
	if !ok {
		return nil
	}

	if !o.retain {
		e.store.Remove(id)
		e.index.Drop(rec.Signature(), id)
		e.logger.Debug("record removed",
			"id", id,
			"state", rec.State.String(),
		)
		snap := rec.Snapshot()
		for _, obs := range e.observers {
			obs.Removed(e.area, snap, RemoveCleanup)
		}
		return nil
	}

	rec.Retained = true
	rec.RetentionTTL = o.ttl
	e.logger.Debug("record retained",
		"id", id,
		"state", rec.State.String(),
		"ttl", o.ttl,
	)
	return nil
}

// Sweep runs the garbage collector over the store and returns what it removed.
func (e *Executor) Sweep() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweepLocked()
}

func (e *Executor) sweepLocked() []Snapshot {
	removed := Sweep(e.store, e.index, e.clock.Now())
	for _, snap := range removed {
		e.logger.Debug("record swept",
			"id", snap.ID,
			"state", snap.State.String(),
			"retained", snap.Retained,
		)
		for _, obs := range e.observers {
			obs.Removed(e.area, snap, RemoveSwept)
		}
	}
	return removed
}

// RebuildIndex recomputes the signature index from the store.
func (e *Executor) RebuildIndex() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index.Rebuild(e.clock.Now())
}

// Close stops accepting dispatches, waits for outstanding transport calls
// (bounded by ctx), applies their settlements, and stops Run.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.Flush()
	e.queue.Close()
	e.logger.Info("executor closed", "records", e.Len())
	return err
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
