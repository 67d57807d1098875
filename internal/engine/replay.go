package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/roach88/timebank/internal/digest"
	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

// ErrDiverged is returned by Recover when re-applying the log does not
// reproduce the recorded outcomes.
var ErrDiverged = errors.New("replay diverged from recorded outcomes")

// Divergence is one field of a record that replay could not reproduce.
type Divergence struct {
	Seq      int64       `json:"seq"`
	Kind     ledger.Kind `json:"kind"`
	Field    string      `json:"field"`
	Recorded string      `json:"recorded"`
	Replayed string      `json:"replayed"`
}

// ReplayResult is the outcome of re-applying a sequence of records.
type ReplayResult struct {
	State       *ledger.State `json:"-"`
	LastSeq     int64         `json:"last_seq"`
	Applied     int           `json:"applied"`
	Divergences []Divergence  `json:"divergences"`
}

// Deterministic reports whether every record replayed to its recorded outcome.
func (r ReplayResult) Deterministic() bool {
	return len(r.Divergences) == 0
}

// Replay applies records to state in order and compares each result with
// what was recorded: the operation id, the outcome, the rejection code, the
// allocated ids and the emitted events.
//
// Replay is the same code path as live sequencing (State.Apply), so a log
// written by one replica replays to the same state on any other.
// Records must have strictly increasing seq greater than afterSeq.
func Replay(state *ledger.State, afterSeq int64, records []store.Record) (ReplayResult, error) {
	if state == nil {
		return ReplayResult{}, errors.New("replay: nil state")
	}

	res := ReplayResult{State: state, LastSeq: afterSeq, Divergences: []Divergence{}}
	for _, rec := range records {
		if rec.Seq <= res.LastSeq {
			return res, fmt.Errorf("replay: seq %d after %d is not increasing", rec.Seq, res.LastSeq)
		}
		res.LastSeq = rec.Seq
		res.Applied++

		diverge := func(field, recorded, replayed string) {
			res.Divergences = append(res.Divergences, Divergence{
				Seq:      rec.Seq,
				Kind:     rec.Operation.Kind,
				Field:    field,
				Recorded: recorded,
				Replayed: replayed,
			})
		}

		id, err := digest.OperationID(rec.Seq, rec.Correlation, rec.Operation)
		if err != nil {
			return res, fmt.Errorf("replay seq %d: %w", rec.Seq, err)
		}
		if id != rec.ID {
			diverge("id", rec.ID, id)
		}

		out, applyErr := state.Apply(rec.Operation)

		outcome := store.OutcomeOK
		if applyErr != nil {
			outcome = store.OutcomeRejected
		}
		if outcome != rec.Outcome {
			diverge("outcome", string(rec.Outcome), string(outcome))
		}
		if code := ledger.CodeOf(applyErr); code != rec.ErrorCode {
			diverge("error_code", string(rec.ErrorCode), string(code))
		}
		if out.ServiceID != rec.ServiceID {
			diverge("service_id", strconv.FormatUint(rec.ServiceID, 10), strconv.FormatUint(out.ServiceID, 10))
		}
		if out.DisputeID != rec.DisputeID {
			diverge("dispute_id", strconv.FormatUint(rec.DisputeID, 10), strconv.FormatUint(out.DisputeID, 10))
		}
		if !sameEvents(rec.Events, out.Events) {
			diverge("events", eventNames(rec.Events), eventNames(out.Events))
		}
	}
	return res, nil
}

func sameEvents(a, b []ledger.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !maps.Equal(a[i].Fields, b[i].Fields) {
			return false
		}
	}
	return true
}

func eventNames(events []ledger.Event) string {
	s := "["
	for i, ev := range events {
		if i > 0 {
			s += " "
		}
		s += ev.Name
	}
	return s + "]"
}

// LogReader is the read side of the operation log. Implemented by
// *store.Store.
type LogReader interface {
	LatestSnapshot(ctx context.Context) (store.SnapshotRecord, bool, error)
	ReadOperations(ctx context.Context, afterSeq int64) ([]store.Record, error)
}

// Recovery is a state rebuilt from the log.
type Recovery struct {
	ReplayResult

	// SnapshotSeq is the seq of the snapshot recovery started from, or 0.
	SnapshotSeq int64 `json:"snapshot_seq"`
}

// Recover rebuilds the ledger from the latest snapshot plus every record
// after it. The snapshot's digest is verified before it is trusted, and the
// tail must replay without divergence.
func Recover(ctx context.Context, log LogReader) (Recovery, error) {
	state := ledger.New()
	var from int64

	snap, ok, err := log.LatestSnapshot(ctx)
	if err != nil {
		return Recovery{}, fmt.Errorf("recover: %w", err)
	}
	if ok {
		d, err := digest.StateDigest(snap.State)
		if err != nil {
			return Recovery{}, fmt.Errorf("recover: snapshot %d: %w", snap.Seq, err)
		}
		if d != snap.Digest {
			return Recovery{}, fmt.Errorf("recover: snapshot %d digest mismatch: stored %s, computed %s", snap.Seq, snap.Digest, d)
		}
		state, err = ledger.Restore(snap.State)
		if err != nil {
			return Recovery{}, fmt.Errorf("recover: snapshot %d: %w", snap.Seq, err)
		}
		from = snap.Seq
	}

	records, err := log.ReadOperations(ctx, from)
	if err != nil {
		return Recovery{}, fmt.Errorf("recover: %w", err)
	}

	res, err := Replay(state, from, records)
	rec := Recovery{ReplayResult: res, SnapshotSeq: from}
	if err != nil {
		return rec, fmt.Errorf("recover: %w", err)
	}
	if !res.Deterministic() {
		first := res.Divergences[0]
		return rec, fmt.Errorf("recover: %w: seq %d %s recorded %s, replayed %s",
			ErrDiverged, first.Seq, first.Field, first.Recorded, first.Replayed)
	}
	if err := state.CheckInvariants(); err != nil {
		return rec, fmt.Errorf("recover: %w", err)
	}
	return rec, nil
}
