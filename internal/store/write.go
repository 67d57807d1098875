package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrSeqConflict is returned when Append finds a different operation already
// recorded at the same seq.
var ErrSeqConflict = errors.New("seq already holds a different operation")

// Append writes an operation record and its events in one transaction.
//
// Uses ON CONFLICT(seq) DO NOTHING: appending the same record twice is a
// no-op. Appending a different record at an existing seq returns
// ErrSeqConflict and writes nothing.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.Seq <= 0 {
		return fmt.Errorf("append: seq must be positive, got %d", rec.Seq)
	}
	if rec.Outcome != OutcomeOK && rec.Outcome != OutcomeRejected {
		return fmt.Errorf("append: unknown outcome %q", rec.Outcome)
	}

	args, err := marshalOperation(rec.Operation)
	if err != nil {
		return fmt.Errorf("append seq %d: %w", rec.Seq, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append seq %d: begin tx: %w", rec.Seq, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO operations
		(seq, id, correlation, kind, caller, args, at, outcome, error_code, service_id, dispute_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		rec.Seq,
		rec.ID,
		rec.Correlation,
		string(rec.Operation.Kind),
		string(rec.Operation.Caller),
		args,
		formatTime(rec.Operation.At),
		string(rec.Outcome),
		string(rec.ErrorCode),
		int64(rec.ServiceID),
		int64(rec.DisputeID),
	)
	if err != nil {
		return fmt.Errorf("append seq %d: insert operation: %w", rec.Seq, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append seq %d: rows affected: %w", rec.Seq, err)
	}
	if rowsAffected == 0 {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM operations WHERE seq = ?`, rec.Seq).Scan(&existing); err != nil {
			return fmt.Errorf("append seq %d: read existing: %w", rec.Seq, err)
		}
		if existing != rec.ID {
			return fmt.Errorf("append seq %d: %w (have %s, got %s)", rec.Seq, ErrSeqConflict, existing, rec.ID)
		}
		return nil
	}

	for i, ev := range rec.Events {
		fields, err := marshalFields(ev.Fields)
		if err != nil {
			return fmt.Errorf("append seq %d: event %d: %w", rec.Seq, i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (seq, idx, name, fields)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(seq, idx) DO NOTHING
		`, rec.Seq, i, ev.Name, fields); err != nil {
			return fmt.Errorf("append seq %d: insert event %d: %w", rec.Seq, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append seq %d: commit: %w", rec.Seq, err)
	}
	return nil
}

// WriteSnapshot stores a snapshot. Idempotent on seq.
func (s *Store) WriteSnapshot(ctx context.Context, snap SnapshotRecord) error {
	state, err := marshalSnapshot(snap.State)
	if err != nil {
		return fmt.Errorf("write snapshot %d: %w", snap.Seq, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (seq, digest, state)
		VALUES (?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, snap.Seq, snap.Digest, state)
	if err != nil {
		return fmt.Errorf("write snapshot %d: %w", snap.Seq, err)
	}
	return nil
}
