package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Database    string
	Caller      string
	Args        string
	Correlation string

	// TimeSource overrides the operation clock (for testing).
	TimeSource engine.TimeSource
}

// invokeArgs are the kind-specific fields accepted by --args.
type invokeArgs struct {
	Skills      string `json:"skills,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Credits     int64  `json:"credits,omitempty"`
	Emergency   bool   `json:"emergency,omitempty"`
	ServiceID   uint64 `json:"service_id,omitempty"`
	DisputeID   uint64 `json:"dispute_id,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <kind>",
		Short: "Submit a single operation",
		Long: `Submit one operation to the ledger and print its receipt.

The ledger is recovered from the database, the operation is sequenced and
appended, and the command exits. A rejected operation is still recorded
and exits with status 1.

Kinds: register, request_service, accept_service, complete_service,
contribute, raise_dispute, vote.

Example:
  timebank invoke register --caller alice --args '{"skills":"gardening"}'
  timebank invoke request_service --caller alice --args '{"description":"fix sink","credits":3}'
  timebank invoke accept_service --caller bob --args '{"service_id":1}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeOperation(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Caller, "caller", "", "member submitting the operation (required)")
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "operation arguments as JSON")
	cmd.Flags().StringVar(&opts.Correlation, "correlation", "", "correlation token (generated if empty)")
	_ = cmd.MarkFlagRequired("caller")

	return cmd
}

func invokeOperation(opts *InvokeOptions, kindName string, cmd *cobra.Command) error {
	req, err := buildInvokeRequest(kindName, opts.Caller, opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid operation", err)
	}
	req.Correlation = opts.Correlation

	ctx := commandContext(cmd)
	sess, err := openSession(ctx, opts.RootOptions, opts.Database, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	var extra []engine.Option
	if opts.TimeSource != nil {
		extra = append(extra, engine.WithTimeSource(opts.TimeSource))
	}

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var rejected error
	err = sess.withEngine(ctx, func(eng *engine.Engine) error {
		receipt, opErr, err := submit(ctx, eng, req)
		if err != nil {
			return WrapExitError(ExitFailure, "engine error", err)
		}
		rejected = opErr
		return out.Receipt(receipt, opErr)
	}, extra...)
	if err != nil {
		return err
	}
	if rejected != nil {
		return WrapExitError(ExitFailure, "operation rejected", rejected)
	}
	return nil
}

// buildInvokeRequest validates the kind and decodes --args into an operation.
func buildInvokeRequest(kindName, caller, rawArgs string) (OpRequest, error) {
	kind, err := ledger.ParseKind(kindName)
	if err != nil {
		return OpRequest{}, err
	}
	if caller == "" {
		return OpRequest{}, fmt.Errorf("--caller is required")
	}

	var args invokeArgs
	dec := json.NewDecoder(bytes.NewReader([]byte(rawArgs)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return OpRequest{}, fmt.Errorf("invalid --args JSON: %w", err)
	}

	return OpRequest{Operation: ledger.Operation{
		Kind:        kind,
		Caller:      ledger.MemberID(caller),
		Skills:      args.Skills,
		Description: args.Description,
		Reason:      args.Reason,
		Credits:     args.Credits,
		Emergency:   args.Emergency,
		ServiceID:   args.ServiceID,
		DisputeID:   args.DisputeID,
	}}, nil
}
