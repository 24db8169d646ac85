// Package harness runs conformance scenarios against a real tracker.Executor.
//
// # Scenario Format
//
// Scenarios are YAML files listing steps that run in order:
//
//	name: retention_window
//	description: "A retained result answers a repeat dispatch inside its window"
//	area: papers
//	steps:
//	  - dispatch: {method: GET, endpoint: /papers/count, as: first}
//	  - resolve: {ref: first, status: 200, result: {count: 12}}
//	  - cleanup: {ref: first, retain: 5s}
//	  - advance: 2s
//	  - sweep: true
//	  - dispatch: {method: GET, endpoint: /papers/count, as: second}
//	  - expect_same: [first, second]
//	  - expect_calls: {method: GET, endpoint: /papers/count, count: 1}
//
// # Step Types
//
//   - dispatch: Dispatch a signature and name the returned id
//   - resolve: Complete the named record's transport call with a 2xx status and result
//   - fail: Complete it with an error status and body, or a transport error
//   - cleanup: Release the record, optionally retaining it for a TTL
//   - advance: Move the manual clock forward
//   - sweep: Run the garbage collector
//   - expect: Check a record's presence, state, status, error and result
//   - expect_same: Check that refs name one record
//   - expect_calls: Check how many transport calls a signature (or the area) made
//
// # Deterministic Execution
//
// Each scenario gets a fresh executor with a manual clock starting at
// testutil.Epoch, sequential ids (op-1, op-2, ...) and a scripted transport
// that holds every call until a resolve or fail step releases it. Steps that
// complete a call wait until the executor has processed it, so lifecycle
// events are recorded in a reproducible order for golden comparison.
package harness
