package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/testutil"
)

const waitTimeout = 2 * time.Second

// gatedCall is one transport call held until the test releases it.
type gatedCall struct {
	req     Request
	release chan gatedResult
}

type gatedResult struct {
	resp Response
	err  error
}

// resolve completes the call with a status and a JSON-encoded result.
func (c *gatedCall) resolve(t *testing.T, status int, result any) {
	t.Helper()
	body, err := json.Marshal(result)
	require.NoError(t, err)
	c.release <- gatedResult{resp: Response{Status: status, Body: body}}
}

// reject completes the call with a rejection.
func (c *gatedCall) reject(resp Response, err error) {
	c.release <- gatedResult{resp: resp, err: err}
}

// gatedTransport blocks every call until the test releases it.
type gatedTransport struct {
	mu      sync.Mutex
	calls   []*gatedCall
	started chan *gatedCall
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{started: make(chan *gatedCall, 64)}
}

func (g *gatedTransport) Execute(ctx context.Context, req Request) (Response, error) {
	c := &gatedCall{req: req, release: make(chan gatedResult, 1)}
	g.mu.Lock()
	g.calls = append(g.calls, c)
	g.mu.Unlock()

	g.started <- c
	r := <-c.release
	return r.resp, r.err
}

// count returns how many calls reached the transport.
func (g *gatedTransport) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// next waits for the next call to start.
func (g *gatedTransport) next(t *testing.T) *gatedCall {
	t.Helper()
	select {
	case c := <-g.started:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("transport call did not start")
		return nil
	}
}

// errTransportDown simulates a connectivity failure.
var errTransportDown = errors.New("connection refused")

// quietLogger discards executor logs in tests.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestExecutor creates an executor with a manual clock and sequential
// ids, and runs its settlement loop for the duration of the test.
func newTestExecutor(t *testing.T, transport Transport, opts ...Option) (*Executor, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	base := []Option{
		WithClock(clock),
		WithIDGenerator(testutil.NewSequentialGenerator("op")),
		WithLogger(quietLogger()),
	}
	exec := New("papers", transport, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = exec.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return exec, clock
}

// await waits for the call behind id to be processed.
func await(t *testing.T, exec *Executor, id string) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	snap, err := exec.Await(ctx, id)
	require.NoError(t, err)
	return snap
}

// waitDone waits for the call behind id to be processed without reading it.
func waitDone(t *testing.T, exec *Executor, id string) {
	t.Helper()
	select {
	case <-exec.Done(id):
	case <-time.After(waitTimeout):
		t.Fatalf("call %s was not processed", id)
	}
}

// recordingObserver captures lifecycle notifications.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(ev string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) Dispatched(area string, snap Snapshot, deduped bool) {
	if deduped {
		o.add("deduped:" + snap.ID)
		return
	}
	o.add("dispatched:" + snap.ID)
}

func (o *recordingObserver) Settled(area string, snap Snapshot) {
	o.add("settled:" + snap.ID + ":" + snap.State.String())
}

func (o *recordingObserver) Removed(area string, snap Snapshot, reason RemoveReason) {
	o.add("removed:" + snap.ID + ":" + string(reason))
}

func (o *recordingObserver) StaleCompletion(area string, id string) {
	o.add("stale:" + id)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	copy(out, o.events)
	return out
}
