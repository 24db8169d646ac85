package tracker

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a tracked operation.
// There is no "none" state: an absent record is the none state.
type State int

const (
	// StatePending means the transport call has not settled yet.
	StatePending State = iota + 1
	// StateFulfilled means the call succeeded and Result is populated.
	StateFulfilled
	// StateFailed means the call failed and Error is populated.
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is Fulfilled or Failed.
func (s State) Terminal() bool {
	return s == StateFulfilled || s == StateFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState parses a state name as produced by State.String.
func ParseState(name string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pending":
		return StatePending, nil
	case "fulfilled":
		return StateFulfilled, nil
	case "failed":
		return StateFailed, nil
	default:
		return 0, fmt.Errorf("unknown state %q", name)
	}
}

// Method is a request verb.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Methods lists the supported verbs.
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete}

// ParseMethod returns the Method for a case-insensitive verb.
// Unknown verbs produce a ProgrammerError.
func ParseMethod(verb string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(verb)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", &ProgrammerError{
		Code:    ErrCodeInvalidMethod,
		Message: fmt.Sprintf("unsupported method %q", verb),
	}
}

// Outcome is the terminal result of a transport call.
type Outcome struct {
	State  State
	Status int
	Result any
	Err    error
}

// Fulfilled builds a successful outcome.
func Fulfilled(status int, result any) Outcome {
	return Outcome{State: StateFulfilled, Status: status, Result: result}
}

// Failed builds a failed outcome. Status is zero when no response was received.
func Failed(status int, err error) Outcome {
	return Outcome{State: StateFailed, Status: status, Err: err}
}

// Record is the state of one logical asynchronous operation.
//
// INVARIANTS:
//   - ID never changes after creation
//   - State moves from Pending to exactly one terminal state, once
//   - Result is set only when Fulfilled, Err only when Failed
type Record struct {
	ID       string
	Method   Method
	Endpoint string
	State    State

	// Status is the transport status code; zero until settled or when the
	// call failed before a response arrived.
	Status int
	Err    error
	Result any

	CreatedAt time.Time
	SettledAt time.Time

	Retained     bool
	RetentionTTL time.Duration

	// Seq orders records by creation within a store.
	Seq int64

	// Touches counts dedup reuses. Reuse never moves SettledAt.
	Touches       int
	LastTouchedAt time.Time
}

// Signature returns the dedup key of the record.
func (r *Record) Signature() Signature {
	return Signature{Method: r.Method, Endpoint: r.Endpoint}
}

// settle applies an outcome. Only a Pending record may settle.
func (r *Record) settle(o Outcome, at time.Time) error {
	if r.State != StatePending {
		return &ProgrammerError{
			Code:    ErrCodeAlreadySettled,
			Message: fmt.Sprintf("record is already %s", r.State),
			ID:      r.ID,
		}
	}
	if !o.State.Terminal() {
		return &ProgrammerError{
			Code:    ErrCodeInvalidOutcome,
			Message: fmt.Sprintf("outcome state %s is not terminal", o.State),
			ID:      r.ID,
		}
	}

	r.State = o.State
	r.Status = o.Status
	r.SettledAt = at
	switch o.State {
	case StateFulfilled:
		r.Result = cloneResult(o.Result)
		r.Err = nil
	case StateFailed:
		r.Result = nil
		r.Err = cloneError(o.Err)
		if r.Err == nil {
			r.Err = &TransportError{Op: "settle", Err: errUnspecifiedFailure}
		}
	}
	return nil
}

// expired reports whether a retained terminal record's window has elapsed.
func (r *Record) expired(now time.Time) bool {
	return r.Retained && r.State.Terminal() && now.Sub(r.SettledAt) > r.RetentionTTL
}

// Snapshot is a read-only copy of a Record handed to readers.
type Snapshot struct {
	ID           string        `json:"id"`
	Method       Method        `json:"method"`
	Endpoint     string        `json:"endpoint"`
	State        State         `json:"state"`
	Status       int           `json:"status,omitempty"`
	Error        string        `json:"error,omitempty"`
	Result       any           `json:"result,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	SettledAt    time.Time     `json:"settled_at,omitzero"`
	Retained     bool          `json:"retained,omitempty"`
	RetentionTTL time.Duration `json:"retention_ttl,omitempty"`
	Touches      int           `json:"touches,omitempty"`

	// Err is the classified failure (TransportError or HTTPError).
	Err error `json:"-"`
}

// Snapshot copies the record. Result and Err are deep copies, so a reader may
// modify them without affecting the stored outcome.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		ID:           r.ID,
		Method:       r.Method,
		Endpoint:     r.Endpoint,
		State:        r.State,
		Status:       r.Status,
		Error:        describeError(r.Err),
		Result:       cloneResult(r.Result),
		CreatedAt:    r.CreatedAt,
		SettledAt:    r.SettledAt,
		Retained:     r.Retained,
		RetentionTTL: r.RetentionTTL,
		Touches:      r.Touches,
		Err:          cloneError(r.Err),
	}
}

// Signature returns the dedup key of the snapshot.
func (s Snapshot) Signature() Signature {
	return Signature{Method: s.Method, Endpoint: s.Endpoint}
}
