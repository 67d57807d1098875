package store

import (
	"context"
	"fmt"
)

// LastSeq returns the highest seq in the log, or 0 for an empty log.
// Used to resume the logical clock after recovery.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM operations
	`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

// Stats counts the rows in each table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM operations),
			(SELECT COUNT(*) FROM operations WHERE outcome = 'rejected'),
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM snapshots),
			(SELECT COALESCE(MAX(seq), 0) FROM operations)
	`).Scan(&st.Operations, &st.Rejected, &st.Events, &st.Snapshots, &st.LastSeq)
	if err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}
	return st, nil
}

// ListCorrelations returns the distinct correlation tokens in first-seen order.
func (s *Store) ListCorrelations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation FROM operations
		GROUP BY correlation
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list correlations: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate correlations: %w", err)
	}
	return tokens, nil
}
