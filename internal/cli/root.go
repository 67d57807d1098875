package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to YAML config file
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the timebank CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "timebank",
		Short: "timebank - mutual-aid time-credit ledger",
		Long: `A mutual-aid time-credit ledger.

Members earn credits by helping each other, pay for help from escrow,
pool credits for emergencies, and vote on disputes. Every operation is
sequenced by a single writer and recorded in an append-only SQLite log
that replays to the same state on any machine.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default ~/.timebank/timebank.yaml)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
