// Package ledger implements the time-credit exchange core.
//
// A State holds every member, service request and dispute, the emergency
// pool and the escrow total. Operations are applied one at a time through the
// per-action methods (Register, RequestService, AcceptService,
// CompleteService, Contribute, RaiseDispute, Vote) or through Apply, which
// dispatches an Operation by kind.
//
// # Atomicity
//
// Every transition checks all of its preconditions before its first write.
// A rejected operation returns an *Error and leaves the state untouched, so a
// sequence of operations can be replayed to an identical state.
//
// # Accounting
//
// Credits only move through the credit and debit primitives and the pool's
// reserve and release. After every operation:
//
//	sum(member balances) + pool + escrow == RegistrationGrant * members
//
// Escrow is the credits of accepted requests that are not yet completed,
// whether they were debited from the requester or reserved from the pool.
//
// # Time
//
// The package never reads the wall clock. Each operation carries the time the
// sequencer assigned to it.
package ledger
