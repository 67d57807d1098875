package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	Correlation string
	Kind        string // optional - filter to one operation kind
}

// TraceEntry is one operation in a correlation timeline.
type TraceEntry struct {
	Seq       int64          `json:"seq"`
	ID        string         `json:"id"`
	Kind      ledger.Kind    `json:"kind"`
	Caller    string         `json:"caller"`
	At        time.Time      `json:"at"`
	Outcome   string         `json:"outcome"`
	ErrorCode string         `json:"error_code,omitempty"`
	ServiceID uint64         `json:"service_id,omitempty"`
	DisputeID uint64         `json:"dispute_id,omitempty"`
	Events    []ledger.Event `json:"events"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Operations int `json:"operations"`
	Rejected   int `json:"rejected"`
	Events     int `json:"events"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Correlation string       `json:"correlation"`
	Timeline    []TraceEntry `json:"timeline"`
	Stats       TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the operations of a correlation",
		Long: `Show the timeline of operations submitted under one correlation token,
with their outcomes and the events they emitted.

Without --correlation, lists every correlation token in first-seen order.

Examples:
  timebank trace --db ./timebank.db
  timebank trace --db ./timebank.db --correlation 0193b1c2-...
  timebank trace --db ./timebank.db --correlation flow-1 --kind vote --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Correlation, "correlation", "", "correlation token to trace")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one operation kind")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	if opts.Kind != "" {
		if _, err := ledger.ParseKind(opts.Kind); err != nil {
			return WrapExitError(ExitCommandError, "invalid --kind", err)
		}
	}

	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Correlation == "" {
		return listCorrelations(ctx, st, opts, cmd)
	}

	records, err := st.ReadCorrelation(ctx, opts.Correlation)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read correlation", err)
	}

	result := buildTrace(opts.Correlation, records, ledger.Kind(opts.Kind))
	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	if len(records) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No operations found for correlation: %s\n", opts.Correlation)
		return nil
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func listCorrelations(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	tokens, err := st.ListCorrelations(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list correlations", err)
	}

	if opts.Format == "json" {
		return writeIndentedJSON(cmd.OutOrStdout(), CLIResponse{
			Status: "ok",
			Data:   map[string]any{"correlations": tokens},
		})
	}

	w := cmd.OutOrStdout()
	if len(tokens) == 0 {
		fmt.Fprintln(w, "No operations found in database.")
		return nil
	}
	for _, token := range tokens {
		fmt.Fprintln(w, token)
	}
	return nil
}

// buildTrace converts records to timeline entries. Stats always cover the
// whole correlation; kindFilter only narrows the timeline.
func buildTrace(correlation string, records []store.Record, kindFilter ledger.Kind) TraceResult {
	result := TraceResult{Correlation: correlation, Timeline: []TraceEntry{}}

	for _, rec := range records {
		result.Stats.Operations++
		result.Stats.Events += len(rec.Events)
		if rec.Outcome == store.OutcomeRejected {
			result.Stats.Rejected++
		}

		if kindFilter != "" && rec.Operation.Kind != kindFilter {
			continue
		}
		events := rec.Events
		if events == nil {
			events = []ledger.Event{}
		}
		result.Timeline = append(result.Timeline, TraceEntry{
			Seq:       rec.Seq,
			ID:        rec.ID,
			Kind:      rec.Operation.Kind,
			Caller:    string(rec.Operation.Caller),
			At:        rec.Operation.At,
			Outcome:   string(rec.Outcome),
			ErrorCode: string(rec.ErrorCode),
			ServiceID: rec.ServiceID,
			DisputeID: rec.DisputeID,
			Events:    events,
		})
	}
	return result
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	return writeIndentedJSON(cmd.OutOrStdout(), CLIResponse{
		Status: "ok",
		Data:   result,
	})
}

func writeIndentedJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for Correlation: %s\n", result.Correlation)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no operations)")
	}
	for _, entry := range result.Timeline {
		formatTraceEntry(w, entry, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Operations: %d\n", result.Stats.Operations)
	fmt.Fprintf(w, "  Rejected:   %d\n", result.Stats.Rejected)
	fmt.Fprintf(w, "  Events:     %d\n", result.Stats.Events)

	return nil
}

// formatTraceEntry formats a single timeline entry for text output.
func formatTraceEntry(w io.Writer, entry TraceEntry, verbose bool) {
	status := entry.Outcome
	if entry.ErrorCode != "" {
		status += " [" + entry.ErrorCode + "]"
	}
	fmt.Fprintf(w, "  [%d] %s by %s: %s\n", entry.Seq, entry.Kind, entry.Caller, status)

	if verbose {
		fmt.Fprintf(w, "       At: %s\n", entry.At.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "       ID: %s\n", truncateID(entry.ID))
	}
	if len(entry.Events) > 0 {
		names := make([]string, len(entry.Events))
		for i, ev := range entry.Events {
			names[i] = ev.Name
			if verbose {
				names[i] = formatEvent(ev)
			}
		}
		fmt.Fprintf(w, "       Events: %s\n", strings.Join(names, ", "))
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
