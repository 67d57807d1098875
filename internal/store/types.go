package store

import (
	"time"

	"github.com/roach88/timebank/internal/ledger"
)

// Outcome is the recorded result of a sequenced operation.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected"
)

// Record is one sequenced operation as it appears in the log.
type Record struct {
	Seq         int64            `json:"seq"`
	ID          string           `json:"id"`
	Correlation string           `json:"correlation"`
	Operation   ledger.Operation `json:"operation"`
	Outcome     Outcome          `json:"outcome"`

	// ErrorCode is set when Outcome is OutcomeRejected.
	ErrorCode ledger.Code `json:"error_code,omitempty"`

	// ServiceID and DisputeID are the ids allocated by the operation, if any.
	ServiceID uint64 `json:"service_id,omitempty"`
	DisputeID uint64 `json:"dispute_id,omitempty"`

	Events []ledger.Event `json:"events"`
}

// EventRecord is a stored event with its log position.
type EventRecord struct {
	Seq   int64        `json:"seq"`
	Index int          `json:"idx"`
	Event ledger.Event `json:"event"`
}

// SnapshotRecord is a ledger snapshot taken after the operation at Seq.
type SnapshotRecord struct {
	Seq    int64           `json:"seq"`
	Digest string          `json:"digest"`
	State  ledger.Snapshot `json:"state"`
}

// Stats summarizes the log.
type Stats struct {
	Operations int64 `json:"operations"`
	Rejected   int64 `json:"rejected"`
	Events     int64 `json:"events"`
	Snapshots  int64 `json:"snapshots"`
	LastSeq    int64 `json:"last_seq"`
}

// timeLayout is used for the at column. Fixed width keeps text order equal to
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
