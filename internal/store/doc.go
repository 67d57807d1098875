// Package store provides the SQLite-backed operation log.
//
// The log is append-only and has three tables:
//   - operations: every sequenced operation with its outcome and rejection code
//   - events: domain events emitted by accepted operations, keyed by (seq, idx)
//   - snapshots: periodic ledger snapshots with their state digest
//
// Ordering always comes from seq, the engine's logical clock, never from the
// at column. Every read orders by seq ASC (and idx ASC for events), so two
// reads of the same log return identical slices.
//
// Writes are idempotent on seq: appending a record that is already present
// with the same id is a no-op, and an operation and its events are written in
// one transaction.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
