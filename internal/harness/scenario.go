package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/inflight/internal/tracker"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Area names the executor. Defaults to "scenario".
	Area string `yaml:"area,omitempty"`

	// SweepOnDispatch enables lazy GC before each dispatch.
	SweepOnDispatch bool `yaml:"sweep_on_dispatch,omitempty"`

	// Steps run in order. Each step sets exactly one field.
	Steps []Step `yaml:"steps"`
}

// Step is one scenario action or expectation.
type Step struct {
	Dispatch    *DispatchStep `yaml:"dispatch,omitempty"`
	Resolve     *ResolveStep  `yaml:"resolve,omitempty"`
	Fail        *FailStep     `yaml:"fail,omitempty"`
	Cleanup     *CleanupStep  `yaml:"cleanup,omitempty"`
	Advance     string        `yaml:"advance,omitempty"`
	Sweep       bool          `yaml:"sweep,omitempty"`
	Expect      *ExpectStep   `yaml:"expect,omitempty"`
	ExpectSame  []string      `yaml:"expect_same,omitempty"`
	ExpectCalls *CallsStep    `yaml:"expect_calls,omitempty"`
}

// DispatchStep dispatches a signature and names the returned id.
type DispatchStep struct {
	Method   string `yaml:"method"`
	Endpoint string `yaml:"endpoint"`
	Body     any    `yaml:"body,omitempty"`

	// As names the returned id for later steps.
	As string `yaml:"as"`
}

// ResolveStep completes a call successfully.
type ResolveStep struct {
	Ref    string `yaml:"ref"`
	Status int    `yaml:"status,omitempty"` // default 200
	Result any    `yaml:"result,omitempty"`
}

// FailStep completes a call with an error status or a transport error.
type FailStep struct {
	Ref    string `yaml:"ref"`
	Status int    `yaml:"status,omitempty"`
	Body   any    `yaml:"body,omitempty"`

	// Error simulates a connectivity failure when Status is zero.
	Error string `yaml:"error,omitempty"`
}

// CleanupStep releases a record.
type CleanupStep struct {
	Ref    string `yaml:"ref"`
	Retain string `yaml:"retain,omitempty"` // duration; empty removes immediately
}

// ExpectStep checks a record. Unset fields are not checked.
type ExpectStep struct {
	Ref      string  `yaml:"ref"`
	Present  *bool   `yaml:"present,omitempty"` // default true
	State    string  `yaml:"state,omitempty"`
	Status   *int    `yaml:"status,omitempty"`
	Error    *string `yaml:"error,omitempty"`
	Result   any     `yaml:"result,omitempty"`
	Touches  *int    `yaml:"touches,omitempty"`
	Retained *bool   `yaml:"retained,omitempty"`
}

// CallsStep checks transport call counts. Without a method and endpoint it
// checks the total.
type CallsStep struct {
	Method   string `yaml:"method,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Count    int    `yaml:"count"`
}

// Step kinds.
const (
	StepDispatch    = "dispatch"
	StepResolve     = "resolve"
	StepFail        = "fail"
	StepCleanup     = "cleanup"
	StepAdvance     = "advance"
	StepSweep       = "sweep"
	StepExpect      = "expect"
	StepExpectSame  = "expect_same"
	StepExpectCalls = "expect_calls"
)

// Kind returns the step type, or an error if the step sets zero or several
// fields.
func (s Step) Kind() (string, error) {
	var kinds []string
	if s.Dispatch != nil {
		kinds = append(kinds, StepDispatch)
	}
	if s.Resolve != nil {
		kinds = append(kinds, StepResolve)
	}
	if s.Fail != nil {
		kinds = append(kinds, StepFail)
	}
	if s.Cleanup != nil {
		kinds = append(kinds, StepCleanup)
	}
	if s.Advance != "" {
		kinds = append(kinds, StepAdvance)
	}
	if s.Sweep {
		kinds = append(kinds, StepSweep)
	}
	if s.Expect != nil {
		kinds = append(kinds, StepExpect)
	}
	if len(s.ExpectSame) > 0 {
		kinds = append(kinds, StepExpectSame)
	}
	if s.ExpectCalls != nil {
		kinds = append(kinds, StepExpectCalls)
	}

	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("empty step")
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("step sets %v; exactly one is allowed", kinds)
	}
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every ref is named by an
// earlier dispatch.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	refs := make(map[string]bool)
	checkRef := func(i int, ref string) error {
		if ref == "" {
			return fmt.Errorf("steps[%d]: ref is required", i)
		}
		if !refs[ref] {
			return fmt.Errorf("steps[%d]: unknown ref %q", i, ref)
		}
		return nil
	}

	for i, step := range s.Steps {
		kind, err := step.Kind()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}

		switch kind {
		case StepDispatch:
			d := step.Dispatch
			if _, err := tracker.NewSignature(d.Method, d.Endpoint); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			if d.As == "" {
				return fmt.Errorf("steps[%d]: dispatch requires as", i)
			}
			refs[d.As] = true

		case StepResolve:
			if err := checkRef(i, step.Resolve.Ref); err != nil {
				return err
			}
			if st := step.Resolve.Status; st != 0 && (st < 200 || st > 299) {
				return fmt.Errorf("steps[%d]: resolve status %d is not 2xx", i, st)
			}

		case StepFail:
			f := step.Fail
			if err := checkRef(i, f.Ref); err != nil {
				return err
			}
			if f.Status == 0 && f.Error == "" {
				return fmt.Errorf("steps[%d]: fail requires status or error", i)
			}
			if f.Status >= 200 && f.Status <= 299 {
				return fmt.Errorf("steps[%d]: fail status %d is 2xx", i, f.Status)
			}

		case StepCleanup:
			if err := checkRef(i, step.Cleanup.Ref); err != nil {
				return err
			}
			if step.Cleanup.Retain != "" {
				if _, err := time.ParseDuration(step.Cleanup.Retain); err != nil {
					return fmt.Errorf("steps[%d]: retain: %w", i, err)
				}
			}

		case StepAdvance:
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", i, err)
			}

		case StepExpect:
			if err := checkRef(i, step.Expect.Ref); err != nil {
				return err
			}
			if st := step.Expect.State; st != "" {
				if _, err := tracker.ParseState(st); err != nil {
					return fmt.Errorf("steps[%d]: %w", i, err)
				}
			}

		case StepExpectSame:
			if len(step.ExpectSame) < 2 {
				return fmt.Errorf("steps[%d]: expect_same needs at least two refs", i)
			}
			for _, ref := range step.ExpectSame {
				if err := checkRef(i, ref); err != nil {
					return err
				}
			}

		case StepExpectCalls:
			c := step.ExpectCalls
			if (c.Method == "") != (c.Endpoint == "") {
				return fmt.Errorf("steps[%d]: expect_calls needs both method and endpoint, or neither", i)
			}
			if c.Count < 0 {
				return fmt.Errorf("steps[%d]: count must be non-negative", i)
			}
		}
	}

	return nil
}
