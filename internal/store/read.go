package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/timebank/internal/ledger"
)

const selectOperations = `
	SELECT seq, id, correlation, args, outcome, error_code, service_id, dispute_id
	FROM operations
`

// ReadOperations returns every record with seq > afterSeq, ordered by seq,
// with its events attached. Returns an empty slice (not nil) if none exist.
func (s *Store) ReadOperations(ctx context.Context, afterSeq int64) ([]Record, error) {
	records, err := s.queryRecords(ctx, "WHERE seq > ?", afterSeq)
	if err != nil {
		return nil, err
	}
	if err := s.attachEvents(ctx, records, "WHERE seq > ?", afterSeq); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadOperation returns the record at seq.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadOperation(ctx context.Context, seq int64) (Record, error) {
	records, err := s.queryRecords(ctx, "WHERE seq = ?", seq)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, sql.ErrNoRows
	}
	if err := s.attachEvents(ctx, records, "WHERE seq = ?", seq); err != nil {
		return Record{}, err
	}
	return records[0], nil
}

// ReadCorrelation returns all records submitted under a correlation token.
func (s *Store) ReadCorrelation(ctx context.Context, correlation string) ([]Record, error) {
	records, err := s.queryRecords(ctx, "WHERE correlation = ?", correlation)
	if err != nil {
		return nil, err
	}
	if err := s.attachEvents(ctx, records,
		"WHERE seq IN (SELECT seq FROM operations WHERE correlation = ?)", correlation); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadEvents returns stored events ordered by (seq, idx). An empty name
// returns every event.
func (s *Store) ReadEvents(ctx context.Context, name string) ([]EventRecord, error) {
	where, args := "", []any{}
	if name != "" {
		where, args = "WHERE name = ?", []any{name}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, idx, name, fields FROM events `+where+`
		ORDER BY seq ASC, idx ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestSnapshot returns the snapshot with the highest seq.
// The bool is false when no snapshot has been written.
func (s *Store) LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error) {
	var (
		rec   SnapshotRecord
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, digest, state FROM snapshots
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&rec.Seq, &rec.Digest, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("read latest snapshot: %w", err)
	}

	rec.State, err = unmarshalSnapshot(state)
	if err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("read snapshot %d: %w", rec.Seq, err)
	}
	return rec, true, nil
}

func (s *Store) queryRecords(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectOperations+where+" ORDER BY seq ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return records, nil
}

// attachEvents loads the events matching where and appends them to the
// records with the same seq. Both sides are ordered by seq, so one merge pass
// suffices.
func (s *Store) attachEvents(ctx context.Context, records []Record, where string, args ...any) error {
	if len(records) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, idx, name, fields FROM events `+where+`
		ORDER BY seq ASC, idx ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return err
		}
		for i < len(records) && records[i].Seq < ev.Seq {
			i++
		}
		if i == len(records) || records[i].Seq != ev.Seq {
			return fmt.Errorf("event seq %d idx %d has no operation", ev.Seq, ev.Index)
		}
		records[i].Events = append(records[i].Events, ev.Event)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		args      string
		outcome   string
		code      string
		serviceID int64
		disputeID int64
	)
	if err := row.Scan(&rec.Seq, &rec.ID, &rec.Correlation, &args, &outcome, &code, &serviceID, &disputeID); err != nil {
		return Record{}, fmt.Errorf("scan operation: %w", err)
	}

	op, err := unmarshalOperation(args)
	if err != nil {
		return Record{}, fmt.Errorf("operation %d: %w", rec.Seq, err)
	}
	rec.Operation = op
	rec.Outcome = Outcome(outcome)
	rec.ErrorCode = ledger.Code(code)
	rec.ServiceID = uint64(serviceID)
	rec.DisputeID = uint64(disputeID)
	rec.Events = []ledger.Event{}
	return rec, nil
}

func scanEvent(row scanner) (EventRecord, error) {
	var (
		ev     EventRecord
		fields string
	)
	if err := row.Scan(&ev.Seq, &ev.Index, &ev.Event.Name, &fields); err != nil {
		return EventRecord{}, fmt.Errorf("scan event: %w", err)
	}
	f, err := unmarshalFields(fields)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event %d/%d: %w", ev.Seq, ev.Index, err)
	}
	ev.Event.Fields = f
	return ev, nil
}
