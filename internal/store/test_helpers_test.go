package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/timebank/internal/ledger"
)

var testAt = time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord builds an accepted register record at seq.
func createTestRecord(seq int64, member string) Record {
	return Record{
		Seq:         seq,
		ID:          "op-" + member,
		Correlation: "flow-" + member,
		Operation: ledger.Operation{
			Kind:   ledger.KindRegister,
			Caller: ledger.MemberID(member),
			At:     testAt,
			Skills: "gardening",
		},
		Outcome: OutcomeOK,
		Events: []ledger.Event{
			{Name: ledger.EventMemberRegistered, Fields: map[string]string{"member": member}},
		},
	}
}
