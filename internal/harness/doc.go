// Package harness runs YAML scenarios against the timebank engine.
//
// A scenario submits operations through a real engine backed by a fresh
// in-memory operation log, checks each outcome, then evaluates assertions
// on the trace, the log and the final ledger state.
//
// # Scenario Format
//
//	name: emergency_request
//	description: "Pool funds an emergency request"
//	start: "2025-01-01T00:00:00Z"   # optional
//	step: 1m                        # optional clock step per operation
//	setup:
//	  - invoke: register
//	    caller: alice
//	    args: { skills: cooking }
//	flow:
//	  - invoke: request_service
//	    caller: alice
//	    args: { description: "fix roof", credits: 3, emergency: true }
//	    expect:
//	      case: InsufficientPoolBalance
//	assertions:
//	  - type: final_state
//	    entity: member
//	    id: alice
//	    expect: { balance: 5 }
//
// Steps without an expect clause must succeed. Setup steps always must.
//
// # Assertion Types
//
//   - trace_count: an operation kind appears exactly N times (optionally with a case)
//   - trace_order: operation kinds appear in the given order
//   - event_count: the log holds exactly N events with a name
//   - final_state: subset match on a member, service, dispute or the pool
//   - invariants: the ledger invariants hold
//
// # Deterministic Testing
//
// Operation times come from testutil.SteppingTime and correlation tokens
// from testutil.SequentialCorrelation (or a fixed token), so the same
// scenario always yields the same trace. Traces are compared against
// golden files in canonical JSON.
package harness
