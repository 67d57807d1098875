package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	MetricsAddr string

	// CorrelationGenerator overrides the token source (for testing).
	// If nil, defaults to UUIDv7Generator.
	CorrelationGenerator engine.CorrelationGenerator

	// TimeSource overrides the operation clock (for testing).
	TimeSource engine.TimeSource
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sequence operations read from stdin",
		Long: `Start the single-writer engine and sequence operations read as JSON
lines from stdin. Each line is one operation:

  {"kind":"register","caller":"alice","skills":"gardening"}
  {"kind":"request_service","caller":"alice","description":"fix sink","credits":3}

Each operation is answered with one line on stdout (a receipt, or an
error carrying the ledger rejection code). The ledger is recovered from
the database on start, and every operation is appended to it.

With --metrics-addr (or metricsAddr in the config) Prometheus metrics are
served on /metrics while the engine runs.

Example:
  timebank run --db ./timebank.db < ops.jsonl
  timebank run --db ./timebank.db --metrics-addr :9100 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := openSession(ctx, opts.RootOptions, opts.Database, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()
	logger := sess.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engOpts := []engine.Option{engine.WithRegisterer(registry)}
	if opts.CorrelationGenerator != nil {
		engOpts = append(engOpts, engine.WithCorrelationGenerator(opts.CorrelationGenerator))
	}
	if opts.TimeSource != nil {
		engOpts = append(engOpts, engine.WithTimeSource(opts.TimeSource))
	}

	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = sess.cfg.MetricsAddr
	}
	if metricsAddr != "" {
		srv := startMetricsServer(metricsAddr, registry, func(err error) {
			logger.Error("metrics listener failed", "addr", metricsAddr, "error", err)
			cancel()
		})
		logger.Info("serving prometheus metrics", "addr", metricsAddr)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logger.Info("engine started", "db", sess.cfg.DatabasePath, "seq", sess.recovery.LastSeq)
	var stats runStats
	err = sess.withEngine(ctx, func(eng *engine.Engine) error {
		return feed(ctx, eng, cmd.InOrStdin(), out, &stats)
	}, engOpts...)
	if err != nil {
		return err
	}

	logger.Info("engine stopped gracefully",
		"applied", stats.applied,
		"rejected", stats.rejected,
		"invalid", stats.invalid,
	)
	return nil
}

type runStats struct {
	applied, rejected, invalid int
}

// feed submits one operation per input line until EOF or cancellation.
// Malformed lines are reported and skipped.
func feed(ctx context.Context, eng *engine.Engine, in io.Reader, out *OutputFormatter, stats *runStats) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	lineNo := 0
	for {
		var (
			line []byte
			ok   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-scanErr:
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read input", err)
				}
			default:
			}
			return nil
		}
		lineNo++

		req, err := decodeOpLine(line)
		if err != nil {
			stats.invalid++
			if outErr := out.Error("E_INVALID_INPUT", fmt.Sprintf("line %d: %v", lineNo, err), nil); outErr != nil {
				return outErr
			}
			continue
		}

		receipt, opErr, err := submit(ctx, eng, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return WrapExitError(ExitFailure, "engine error", err)
		}
		if opErr != nil {
			stats.rejected++
		} else {
			stats.applied++
		}
		if err := out.Receipt(receipt, opErr); err != nil {
			return err
		}
	}
}

// decodeOpLine parses one JSON operation, rejecting unknown fields.
func decodeOpLine(line []byte) (OpRequest, error) {
	var req OpRequest
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return OpRequest{}, fmt.Errorf("invalid operation JSON: %w", err)
	}
	if req.Kind == "" {
		return OpRequest{}, errors.New("kind is required")
	}
	if _, err := ledger.ParseKind(string(req.Kind)); err != nil {
		return OpRequest{}, err
	}
	return req, nil
}

// startMetricsServer serves the registry on addr in the background.
func startMetricsServer(addr string, registry *prometheus.Registry, onError func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onError(err)
		}
	}()
	return srv
}
