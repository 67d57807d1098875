package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/timebank/internal/digest"
	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

// QueryOptions holds flags shared by the query subcommands.
type QueryOptions struct {
	*RootOptions
	Database string
	At       string // RFC 3339 instant for expired
	Name     string // event name filter for events

	// Now overrides the current time for expired (for testing).
	Now func() time.Time
}

// PoolSummary is the output of query pool.
type PoolSummary struct {
	Balance       int64  `json:"balance"`
	Escrow        int64  `json:"escrow"`
	Members       int    `json:"members"`
	TotalServices uint64 `json:"total_services"`
	TotalDisputes uint64 `json:"total_disputes"`
	LastSeq       int64  `json:"last_seq"`
	Digest        string `json:"digest"`
}

// NewQueryCommand creates the query command and its subcommands.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read ledger state",
		Long: `Read ledger state recovered from the operation log. Queries never
append to the log.

Examples:
  timebank query member alice
  timebank query service 1 --format json
  timebank query expired alice --at 2026-01-01T00:00:00Z
  timebank query events --name CreditsTransferred`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	stateQuery := func(use, short string, args cobra.PositionalArgs, fn func(*ledger.State, []string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:           use,
			Short:         short,
			Args:          args,
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStateQuery(opts, cmd, args, fn)
			},
		}
	}

	cmd.AddCommand(stateQuery("member <id>", "Show a member", cobra.ExactArgs(1),
		func(s *ledger.State, args []string) (any, error) {
			return s.Member(ledger.MemberID(args[0]))
		}))

	cmd.AddCommand(stateQuery("service <id>", "Show a service request", cobra.ExactArgs(1),
		func(s *ledger.State, args []string) (any, error) {
			id, err := parseID("service", args[0])
			if err != nil {
				return nil, err
			}
			return s.Service(id)
		}))

	cmd.AddCommand(stateQuery("dispute <id>", "Show a dispute", cobra.ExactArgs(1),
		func(s *ledger.State, args []string) (any, error) {
			id, err := parseID("dispute", args[0])
			if err != nil {
				return nil, err
			}
			return s.Dispute(id)
		}))

	cmd.AddCommand(stateQuery("voted <member> <dispute>", "Report whether a member voted on a dispute", cobra.ExactArgs(2),
		func(s *ledger.State, args []string) (any, error) {
			id, err := parseID("dispute", args[1])
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"member":  args[0],
				"dispute": id,
				"voted":   s.HasVoted(ledger.MemberID(args[0]), id),
			}, nil
		}))

	expired := stateQuery("expired <member>", "Report whether a member's token has expired", cobra.ExactArgs(1),
		func(s *ledger.State, args []string) (any, error) {
			at, err := opts.queryTime()
			if err != nil {
				return nil, err
			}
			exp, err := s.IsTokenExpired(ledger.MemberID(args[0]), at)
			if err != nil {
				return nil, err
			}
			return map[string]any{"member": args[0], "at": at, "expired": exp}, nil
		})
	expired.Flags().StringVar(&opts.At, "at", "", "instant to evaluate at, RFC 3339 (default now)")
	cmd.AddCommand(expired)

	cmd.AddCommand(&cobra.Command{
		Use:           "pool",
		Short:         "Show pool, escrow and totals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoolQuery(opts, cmd)
		},
	})

	events := &cobra.Command{
		Use:           "events",
		Short:         "List recorded events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsQuery(opts, cmd)
		},
	}
	events.Flags().StringVar(&opts.Name, "name", "", "only events with this name")
	cmd.AddCommand(events)

	cmd.AddCommand(&cobra.Command{
		Use:           "stats",
		Short:         "Summarize the operation log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsQuery(opts, cmd)
		},
	})

	return cmd
}

func (o *QueryOptions) queryTime() (time.Time, error) {
	if o.At != "" {
		at, err := time.Parse(time.RFC3339, o.At)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at: %w", err)
		}
		return at.UTC(), nil
	}
	if o.Now != nil {
		return o.Now().UTC(), nil
	}
	return time.Now().UTC(), nil
}

func (o *QueryOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func parseID(entity, s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", entity, s)
	}
	return id, nil
}

// runStateQuery recovers the ledger and prints fn's result. A ledger
// rejection (unknown member, service or dispute) exits 1 with its code.
func runStateQuery(opts *QueryOptions, cmd *cobra.Command, args []string, fn func(*ledger.State, []string) (any, error)) error {
	sess, err := openSession(commandContext(cmd), opts.RootOptions, opts.Database, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := opts.formatter(cmd)
	result, err := fn(sess.recovery.State, args)
	if err != nil {
		code := ledger.CodeOf(err)
		if code == "" {
			return WrapExitError(ExitCommandError, "invalid query", err)
		}
		if outErr := out.Error(string(code), err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "query failed", err)
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	return writeIndentedJSON(cmd.OutOrStdout(), result)
}

func runPoolQuery(opts *QueryOptions, cmd *cobra.Command) error {
	sess, err := openSession(commandContext(cmd), opts.RootOptions, opts.Database, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	s := sess.recovery.State
	d, err := digest.StateDigest(s.Snapshot())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to digest state", err)
	}
	summary := PoolSummary{
		Balance:       s.PoolBalance(),
		Escrow:        s.Escrow(),
		Members:       s.MemberCount(),
		TotalServices: s.TotalServices(),
		TotalDisputes: s.TotalDisputes(),
		LastSeq:       sess.recovery.LastSeq,
		Digest:        d,
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(summary)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Pool balance:   %d\n", summary.Balance)
	fmt.Fprintf(w, "Escrow:         %d\n", summary.Escrow)
	fmt.Fprintf(w, "Members:        %d\n", summary.Members)
	fmt.Fprintf(w, "Services:       %d\n", summary.TotalServices)
	fmt.Fprintf(w, "Disputes:       %d\n", summary.TotalDisputes)
	fmt.Fprintf(w, "Last seq:       %d\n", summary.LastSeq)
	if opts.Verbose {
		fmt.Fprintf(w, "Digest:         %s\n", summary.Digest)
	}
	return nil
}

func runEventsQuery(opts *QueryOptions, cmd *cobra.Command) error {
	st, err := openQueryStore(opts, cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ReadEvents(commandContext(cmd), opts.Name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(events)
	}
	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}
	for _, ev := range events {
		fmt.Fprintf(w, "[%d.%d] %s\n", ev.Seq, ev.Index, formatEvent(ev.Event))
	}
	return nil
}

func runStatsQuery(opts *QueryOptions, cmd *cobra.Command) error {
	st, err := openQueryStore(opts, cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(stats)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Operations: %d\n", stats.Operations)
	fmt.Fprintf(w, "Rejected:   %d\n", stats.Rejected)
	fmt.Fprintf(w, "Events:     %d\n", stats.Events)
	fmt.Fprintf(w, "Snapshots:  %d\n", stats.Snapshots)
	fmt.Fprintf(w, "Last seq:   %d\n", stats.LastSeq)
	return nil
}

// openQueryStore opens the log without recovering the ledger.
func openQueryStore(opts *QueryOptions, cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
