package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/inflight/internal/tracker"
)

var errScenarioEnded = errors.New("scenario ended")

// scriptedReply is what a held transport call returns once released.
type scriptedReply struct {
	resp tracker.Response
	err  error
}

// scriptedCall is one transport call, keyed by operation id.
type scriptedCall struct {
	arrived  chan struct{} // closed when Execute has been entered
	reply    chan scriptedReply
	released bool
}

// scriptedTransport holds every call until a step releases it.
//
// Thread-safety: safe for concurrent use.
type scriptedTransport struct {
	mu    sync.Mutex
	calls map[string]*scriptedCall
	count map[tracker.Signature]int
	total int

	aborted bool
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		calls: make(map[string]*scriptedCall),
		count: make(map[tracker.Signature]int),
	}
}

// callLocked returns the call slot for id, creating it on first use by
// either side.
func (s *scriptedTransport) callLocked(id string) *scriptedCall {
	c, ok := s.calls[id]
	if !ok {
		c = &scriptedCall{
			arrived: make(chan struct{}),
			reply:   make(chan scriptedReply, 1),
		}
		s.calls[id] = c
	}
	return c
}

func (s *scriptedTransport) Execute(ctx context.Context, req tracker.Request) (tracker.Response, error) {
	s.mu.Lock()
	c := s.callLocked(req.ID)
	if s.aborted && !c.released {
		c.released = true
		c.reply <- scriptedReply{err: errScenarioEnded}
	}
	s.count[tracker.Signature{Method: req.Method, Endpoint: req.Endpoint}]++
	s.total++
	close(c.arrived)
	s.mu.Unlock()

	select {
	case r := <-c.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return tracker.Response{}, ctx.Err()
	}
}

// release completes the call for id once it has reached the transport.
func (s *scriptedTransport) release(id string, r scriptedReply, timeout time.Duration) error {
	s.mu.Lock()
	c := s.callLocked(id)
	if c.released {
		s.mu.Unlock()
		return fmt.Errorf("call for %s was already completed", id)
	}
	c.released = true
	s.mu.Unlock()

	if err := s.awaitArrival(id, timeout); err != nil {
		return err
	}
	c.reply <- r
	return nil
}

// awaitArrival waits until the call for id has reached the transport.
func (s *scriptedTransport) awaitArrival(id string, timeout time.Duration) error {
	s.mu.Lock()
	c := s.callLocked(id)
	s.mu.Unlock()

	select {
	case <-c.arrived:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("call for %s never reached the transport", id)
	}
}

// abort fails every call not yet released so the executor can shut down.
func (s *scriptedTransport) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	for _, c := range s.calls {
		if !c.released {
			c.released = true
			c.reply <- scriptedReply{err: errScenarioEnded}
		}
	}
}

// callsFor returns the number of calls made for sig.
func (s *scriptedTransport) callsFor(sig tracker.Signature) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count[sig]
}

func (s *scriptedTransport) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
