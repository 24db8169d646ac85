package harness

import "github.com/roach88/inflight/internal/tracker"

// TraceEvent is one lifecycle notification observed during a scenario.
type TraceEvent struct {
	Kind      string `json:"kind"` // dispatched, deduped, settled, removed, stale
	ID        string `json:"id"`
	Signature string `json:"signature,omitempty"`
	State     string `json:"state,omitempty"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Result    any    `json:"result,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect step matched.
	Pass bool `json:"pass"`

	// Trace contains lifecycle events in the order the executor emitted them.
	Trace []TraceEvent `json:"trace"`

	// Records is the final store content in creation order.
	Records []tracker.Snapshot `json:"records"`

	// Calls is the total number of transport calls.
	Calls int `json:"calls"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Records: []tracker.Snapshot{},
		Errors:  []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
