// Package harness runs YAML scenarios against a real Bridge and checks
// the resulting trace.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	steps:
//	  - op: open
//	    db: app
//	  - op: execute
//	    db: app
//	    sql: "INSERT INTO users(name) VALUES (?)"
//	    params: ["ada"]
//	    expect:
//	      rows_affected: 1
//	  - op: subscribe
//	    db: app
//	    as: users
//	    sql: "SELECT name FROM users"
//	    fire_on:
//	      - table: users
//	assertions:
//	  - type: trace_count
//	    event: users
//	    count: 1
//	  - type: final_state
//	    db: app
//	    table: users
//	    where: { id: 1 }
//	    expect: { name: "ada" }
//
// # Trace
//
// Every step appends a "step" event labelled with its op. Deliveries
// from subscriptions and hooks append "notify" events labelled with the
// subscription alias, "update_hook", "commit" or "rollback". The host
// loop is pumped after each step, so notifications always follow the
// step that caused them.
//
// # Assertion Types
//
//   - trace_contains: an event with the given label exists
//   - trace_order: labels appear in the given order
//   - trace_count: a label appears exactly N times
//   - final_state: one row of a table matches the expected columns
//
// # Deterministic Testing
//
// Scenarios run with a testutil.DeterministicClock for trace sequence
// numbers and a testutil.SequenceIDGenerator for subscription ids, in a
// fresh temporary directory, so the same scenario always produces the
// same trace. RunWithGolden compares that trace with
// testdata/golden/<name>.golden.
package harness
