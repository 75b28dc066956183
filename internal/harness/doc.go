// Package harness runs scripted conformance scenarios against the signal
// bus and its log.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: replay_then_live
//	description: "A replaying subscriber sees history, then live signals"
//	tail_buffer: 1024
//	steps:
//	  - emit: {kind: value_changed, node: root/a, value: "1"}
//	  - subscribe: {id: ui, node: root/a, replay_from: 1}
//	  - emit: {kind: value_changed, node: root/a, value: "2"}
//	  - unsubscribe: ui
//	  - compact: {keep_from: 2}
//	  - reopen: true
//	  - tear: 3
//	assertions:
//	  - type: delivered
//	    subscriber: ui
//	    seqs: [1, 2]
//	  - type: log_range
//	    first: 2
//	    next: 3
//
// Each step sets exactly one operation. Values are CUE literals. reopen
// closes and recovers the log; tear cuts bytes off the end of the file
// first, as a crash mid-write would. Subscriptions do not survive either.
//
// # Assertion Types
//
//   - delivered: the exact sequences a subscriber received, in order
//   - delivered_count: how many signals a subscriber received
//   - log_range: the retained log is [first, next)
//   - handler_errors: how many handler calls failed in total
//
// # Deterministic Testing
//
// Every run uses fresh in-memory storage, testutil.DeterministicClock for
// signal timestamps and testutil.SequentialIDs for subscription IDs, so
// traces are stable for golden comparison.
package harness
