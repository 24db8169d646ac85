package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/roach88/inflight/internal/testutil"
	"github.com/roach88/inflight/internal/tracker"
)

// DefaultArea names the executor when a scenario does not.
const DefaultArea = "scenario"

// stepTimeout bounds how long a step waits for the executor.
const stepTimeout = 5 * time.Second

// Harness is the scenario execution engine.
// It runs one scenario against a fresh executor with a manual clock,
// sequential ids and a scripted transport.
type Harness struct {
	exec      *tracker.Executor
	clock     *testutil.ManualClock
	transport *scriptedTransport
	recorder  *traceRecorder
	refs      map[string]string
	issued    map[string]bool
	logger    *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Failed expectations are reported in the Result; an error is returned only
// when the scenario cannot be executed (a step rejected by the tracker, or a
// call that never settles).
func Run(scenario *Scenario) (*Result, error) {
	area := scenario.Area
	if area == "" {
		area = DefaultArea
	}

	h := &Harness{
		clock:     testutil.NewManualClock(time.Time{}),
		transport: newScriptedTransport(),
		recorder:  &traceRecorder{},
		refs:      make(map[string]string),
		issued:    make(map[string]bool),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in scenarios
	}
	h.exec = tracker.New(area, h.transport,
		tracker.WithClock(h.clock),
		tracker.WithIDGenerator(testutil.NewSequentialGenerator("op")),
		tracker.WithLogger(h.logger),
		tracker.WithObserver(h.recorder),
		tracker.WithSweepOnDispatch(scenario.SweepOnDispatch),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.exec.Run(ctx)
	}()
	defer func() {
		h.transport.abort()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), stepTimeout)
		defer closeCancel()
		_ = h.exec.Close(closeCtx)
		cancel()
		<-done
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	result.Trace = h.recorder.events()
	result.Records = h.exec.Snapshots()
	result.Calls = h.transport.totalCalls()
	return result, nil
}

func (h *Harness) runStep(i int, step Step, result *Result) error {
	kind, err := step.Kind()
	if err != nil {
		return err
	}

	switch kind {
	case StepDispatch:
		d := step.Dispatch
		id, err := h.exec.Dispatch(tracker.Method(d.Method), d.Endpoint, d.Body)
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		h.refs[d.As] = id
		if h.issued[id] {
			return nil
		}
		// A new record issued a transport call; wait for it so call counts
		// are exact.
		h.issued[id] = true
		return h.transport.awaitArrival(id, stepTimeout)

	case StepResolve:
		r := step.Resolve
		status := r.Status
		if status == 0 {
			status = 200
		}
		body, err := encodeBody(r.Result)
		if err != nil {
			return fmt.Errorf("resolve: %w", err)
		}
		return h.complete(r.Ref, scriptedReply{resp: tracker.Response{Status: status, Body: body}})

	case StepFail:
		f := step.Fail
		if f.Status == 0 {
			return h.complete(f.Ref, scriptedReply{err: errors.New(f.Error)})
		}
		body, err := encodeBody(f.Body)
		if err != nil {
			return fmt.Errorf("fail: %w", err)
		}
		return h.complete(f.Ref, scriptedReply{
			resp: tracker.Response{Status: f.Status, Body: body},
			err:  fmt.Errorf("unexpected status %d", f.Status),
		})

	case StepCleanup:
		c := step.Cleanup
		var opts []tracker.CleanupOption
		if c.Retain != "" {
			ttl, err := time.ParseDuration(c.Retain)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			opts = append(opts, tracker.Retain(ttl))
		}
		if err := h.exec.Cleanup(h.refs[c.Ref], opts...); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}

	case StepAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)

	case StepSweep:
		h.exec.Sweep()

	case StepExpect:
		for _, msg := range h.checkRecord(step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
		}

	case StepExpectSame:
		first := h.refs[step.ExpectSame[0]]
		for _, ref := range step.ExpectSame[1:] {
			if h.refs[ref] != first {
				result.AddError(fmt.Sprintf("steps[%d]: %s is %s, %s is %s",
					i, step.ExpectSame[0], first, ref, h.refs[ref]))
			}
		}

	case StepExpectCalls:
		c := step.ExpectCalls
		got := h.transport.totalCalls()
		label := "total"
		if c.Method != "" {
			sig, err := tracker.NewSignature(c.Method, c.Endpoint)
			if err != nil {
				return fmt.Errorf("expect_calls: %w", err)
			}
			got = h.transport.callsFor(sig)
			label = sig.String()
		}
		if got != c.Count {
			result.AddError(fmt.Sprintf("steps[%d]: %s calls: expected %d, got %d", i, label, c.Count, got))
		}
	}

	return nil
}

// complete releases the call behind ref and waits until the executor has
// processed its outcome.
func (h *Harness) complete(ref string, reply scriptedReply) error {
	id := h.refs[ref]
	if err := h.transport.release(id, reply, stepTimeout); err != nil {
		return err
	}

	select {
	case <-h.exec.Done(id):
		return nil
	case <-time.After(stepTimeout):
		return fmt.Errorf("outcome for %s was not applied", id)
	}
}

// checkRecord compares a record against an expect step.
func (h *Harness) checkRecord(e *ExpectStep) []string {
	id := h.refs[e.Ref]
	snap, ok := h.exec.Get(id)

	wantPresent := e.Present == nil || *e.Present
	if ok != wantPresent {
		if wantPresent {
			return []string{fmt.Sprintf("%s (%s): expected present, record is absent", e.Ref, id)}
		}
		return []string{fmt.Sprintf("%s (%s): expected absent, record is %s", e.Ref, id, snap.State)}
	}
	if !ok {
		return nil
	}

	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("%s (%s): %s: expected %v, got %v", e.Ref, id, field, want, got))
	}

	if e.State != "" && e.State != snap.State.String() {
		mismatch("state", e.State, snap.State)
	}
	if e.Status != nil && *e.Status != snap.Status {
		mismatch("status", *e.Status, snap.Status)
	}
	if e.Error != nil && *e.Error != snap.Error {
		mismatch("error", *e.Error, snap.Error)
	}
	if e.Touches != nil && *e.Touches != snap.Touches {
		mismatch("touches", *e.Touches, snap.Touches)
	}
	if e.Retained != nil && *e.Retained != snap.Retained {
		mismatch("retained", *e.Retained, snap.Retained)
	}
	if e.Result != nil {
		want, err := normalize(e.Result)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: result: %v", e.Ref, err))
		} else if !reflect.DeepEqual(want, snap.Result) {
			mismatch("result", want, snap.Result)
		}
	}
	return errs
}

// encodeBody renders a YAML value as a JSON response body. Nil is an empty body.
func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// normalize round-trips a YAML value through JSON so it compares equal to a
// decoded response body.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// traceRecorder is a tracker.Observer that builds the scenario trace.
type traceRecorder struct {
	mu    sync.Mutex
	trace []TraceEvent
}

func (r *traceRecorder) add(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, ev)
}

func (r *traceRecorder) events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.trace))
	copy(out, r.trace)
	return out
}

func (r *traceRecorder) Dispatched(area string, snap tracker.Snapshot, deduped bool) {
	kind := "dispatched"
	if deduped {
		kind = "deduped"
	}
	r.add(TraceEvent{
		Kind:      kind,
		ID:        snap.ID,
		Signature: snap.Signature().String(),
		State:     snap.State.String(),
	})
}

func (r *traceRecorder) Settled(area string, snap tracker.Snapshot) {
	r.add(TraceEvent{
		Kind:      "settled",
		ID:        snap.ID,
		Signature: snap.Signature().String(),
		State:     snap.State.String(),
		Status:    snap.Status,
		Error:     snap.Error,
		Result:    snap.Result,
	})
}

func (r *traceRecorder) Removed(area string, snap tracker.Snapshot, reason tracker.RemoveReason) {
	r.add(TraceEvent{
		Kind:      "removed",
		ID:        snap.ID,
		Signature: snap.Signature().String(),
		State:     snap.State.String(),
		Reason:    string(reason),
	})
}

func (r *traceRecorder) StaleCompletion(area string, id string) {
	r.add(TraceEvent{Kind: "stale", ID: id})
}
