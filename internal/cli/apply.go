package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database     string
	StopOnReject bool

	// TimeSource overrides the operation clock (for testing).
	TimeSource engine.TimeSource
}

// OpFile is a batch of operations applied in order.
type OpFile struct {
	Operations []OpRequest `yaml:"operations"`
}

// ApplySummary is the JSON payload reported after a batch.
type ApplySummary struct {
	Receipts []engine.Receipt `json:"receipts"`
	Applied  int              `json:"applied"`
	Rejected int              `json:"rejected"`
	LastSeq  int64            `json:"last_seq"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Submit a batch of operations from a file",
		Long: `Submit the operations listed in a YAML (or JSON) file, in order.

  operations:
    - kind: register
      caller: alice
      skills: gardening
    - kind: request_service
      caller: alice
      description: fix sink
      credits: 3

Use "-" to read the file from stdin. Rejected operations are recorded
like any other; the command exits with status 1 if any were rejected.

Example:
  timebank apply --db ./timebank.db ops.yaml
  timebank apply --db ./timebank.db --stop-on-reject ops.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().BoolVar(&opts.StopOnReject, "stop-on-reject", false, "stop at the first rejected operation")

	return cmd
}

func applyFile(opts *ApplyOptions, path string, cmd *cobra.Command) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err)
	}

	ops, err := ParseOpFile(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid operations file", err)
	}

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

	summary := ApplySummary{Receipts: []engine.Receipt{}}
	err = sess.withEngine(ctx, func(eng *engine.Engine) error {
		for _, req := range ops {
			receipt, opErr, err := submit(ctx, eng, req)
			if err != nil {
				return WrapExitError(ExitFailure, "engine error", err)
			}
			summary.Receipts = append(summary.Receipts, receipt)
			summary.LastSeq = receipt.Seq
			if opErr != nil {
				summary.Rejected++
			} else {
				summary.Applied++
			}

			if opts.Format != "json" {
				if err := out.Receipt(receipt, opErr); err != nil {
					return err
				}
			}
			if opErr != nil && opts.StopOnReject {
				out.VerboseLog("stopping at seq %d", receipt.Seq)
				return nil
			}
		}
		return nil
	}, extra...)
	if err != nil {
		return err
	}

	sess.logger.Info("batch applied",
		"applied", summary.Applied,
		"rejected", summary.Rejected,
		"last_seq", summary.LastSeq,
	)

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: summary}
		if summary.Rejected > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    "E_REJECTED",
				Message: fmt.Sprintf("%d operation(s) rejected", summary.Rejected),
			}
		}
		if err := out.encode(resp); err != nil {
			return err
		}
	}

	if summary.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) rejected", summary.Rejected))
	}
	return nil
}

// ParseOpFile decodes an operations file. YAML is a superset of JSON, so
// both formats are accepted. Unknown fields and unknown kinds are errors.
func ParseOpFile(data []byte) ([]OpRequest, error) {
	var file OpFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("operations file is empty")
		}
		return nil, fmt.Errorf("failed to parse operations: %w", err)
	}

	if len(file.Operations) == 0 {
		return nil, errors.New("operations: at least one operation is required")
	}
	for i, req := range file.Operations {
		if req.Kind == "" {
			return nil, fmt.Errorf("operations[%d]: kind is required", i)
		}
		if _, err := ledger.ParseKind(string(req.Kind)); err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		if req.Caller == "" {
			return nil, fmt.Errorf("operations[%d]: caller is required", i)
		}
	}
	return file.Operations, nil
}
