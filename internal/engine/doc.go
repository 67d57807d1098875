// Package engine sequences ledger operations.
//
// The engine is the single writer in front of a ledger.State. Callers on any
// goroutine Submit operations; Run drains them from a FIFO queue and applies
// them one at a time.
//
// # Sequencing
//
// Each operation gets, in order:
//  1. a seq from the logical Clock (strictly increasing, never reused)
//  2. a time from the TimeSource if the submitter left At zero
//  3. a correlation token (UUIDv7) if the submitter gave none
//  4. a content-addressed ID from internal/digest
//
// It is then applied with State.Apply and appended to the OperationLog with
// its outcome, accepted or rejected, before the next operation starts.
//
// # Failure
//
// A log write failure is fatal. Run returns a *LogError, every queued
// operation is answered with ErrStopped, and View refuses to serve the
// in-memory state, which may now be ahead of the log. Restart with Recover.
//
// # Replay
//
// Replay and live sequencing share State.Apply. Recover loads the latest
// snapshot, verifies its digest, and replays the tail of the log, checking
// every recorded outcome. Any difference is a Divergence.
package engine
