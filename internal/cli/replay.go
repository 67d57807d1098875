package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/timebank/internal/digest"
	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// SnapshotCheck compares a stored snapshot with the state replayed up to it.
type SnapshotCheck struct {
	Seq      int64  `json:"seq"`
	Stored   string `json:"stored"`
	Replayed string `json:"replayed"`
	Match    bool   `json:"match"`
}

// ReplayReport holds the overall replay result.
type ReplayReport struct {
	Operations    int                 `json:"operations"`
	LastSeq       int64               `json:"last_seq"`
	Digest        string              `json:"digest"`
	Deterministic bool                `json:"deterministic"`
	Divergences   []engine.Divergence `json:"divergences"`
	Snapshot      *SnapshotCheck      `json:"snapshot,omitempty"`
	Invariants    string              `json:"invariants,omitempty"`
}

// OK reports whether the log replayed cleanly.
func (r ReplayReport) OK() bool {
	return r.Deterministic && (r.Snapshot == nil || r.Snapshot.Match) && r.Invariants == ""
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the operation log and verify determinism",
		Long: `Replay the whole operation log from an empty ledger and verify that every
operation reproduces its recorded outcome, allocated ids and events.

The latest snapshot, if any, is checked against the state replayed up to
its seq, and the final state is checked against the ledger invariants.

Exit codes:
  0 - Log replays deterministically
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  timebank replay --db ./timebank.db
  timebank replay --db ./timebank.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}

	// Open directly: a session would refuse a divergent log before we can
	// report on it.
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	report, err := replayLog(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay log", err)
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, report)
	}
	return outputReplayText(cmd, report, opts.Verbose)
}

// replayLog replays every record from genesis, pausing at the latest
// snapshot to compare digests.
func replayLog(ctx context.Context, st *store.Store) (ReplayReport, error) {
	records, err := st.ReadOperations(ctx, 0)
	if err != nil {
		return ReplayReport{}, err
	}
	snap, hasSnap, err := st.LatestSnapshot(ctx)
	if err != nil {
		return ReplayReport{}, err
	}

	head, tail := records, []store.Record(nil)
	if hasSnap {
		split := len(records)
		for i, rec := range records {
			if rec.Seq > snap.Seq {
				split = i
				break
			}
		}
		head, tail = records[:split], records[split:]
	}

	state := ledger.New()
	first, err := engine.Replay(state, 0, head)
	if err != nil {
		return ReplayReport{}, err
	}

	report := ReplayReport{}
	if hasSnap {
		replayed, err := digest.StateDigest(state.Snapshot())
		if err != nil {
			return ReplayReport{}, err
		}
		report.Snapshot = &SnapshotCheck{
			Seq:      snap.Seq,
			Stored:   snap.Digest,
			Replayed: replayed,
			Match:    replayed == snap.Digest,
		}
	}

	second, err := engine.Replay(state, first.LastSeq, tail)
	if err != nil {
		return ReplayReport{}, err
	}

	final, err := digest.StateDigest(state.Snapshot())
	if err != nil {
		return ReplayReport{}, err
	}

	report.Operations = first.Applied + second.Applied
	report.LastSeq = second.LastSeq
	report.Digest = final
	report.Divergences = append(first.Divergences, second.Divergences...)
	report.Deterministic = len(report.Divergences) == 0
	if err := state.CheckInvariants(); err != nil {
		report.Invariants = err.Error()
	}
	return report, nil
}

// outputReplayJSON outputs the replay report as JSON.
func outputReplayJSON(cmd *cobra.Command, report ReplayReport) error {
	response := CLIResponse{
		Status: "ok",
		Data:   report,
	}

	if !report.OK() {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !report.OK() {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay report as text.
func outputReplayText(cmd *cobra.Command, report ReplayReport, verbose bool) error {
	w := cmd.OutOrStdout()

	if report.Operations == 0 {
		fmt.Fprintln(w, "No operations found in database.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d operation(s), last seq %d\n", report.Operations, report.LastSeq)
	if verbose {
		fmt.Fprintf(w, "  Digest: %s\n", report.Digest)
	}

	if s := report.Snapshot; s != nil {
		if s.Match {
			fmt.Fprintf(w, "✓ Snapshot at seq %d matches\n", s.Seq)
		} else {
			fmt.Fprintf(w, "✗ Snapshot at seq %d: stored %s, replayed %s\n", s.Seq, s.Stored, s.Replayed)
		}
	}

	for _, d := range report.Divergences {
		fmt.Fprintf(w, "✗ #%d %s: %s recorded %s, replayed %s\n", d.Seq, d.Kind, d.Field, d.Recorded, d.Replayed)
	}
	if report.Invariants != "" {
		fmt.Fprintf(w, "✗ Invariant violated: %s\n", report.Invariants)
	}

	if report.OK() {
		fmt.Fprintln(w, "✓ Log verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
