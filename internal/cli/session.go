package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/timebank/internal/config"
	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

// session is an open operation log with the ledger recovered from it.
type session struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	recovery engine.Recovery
}

// commandContext returns the command's context, or Background when the
// command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig resolves settings for a command. A non-empty db overrides the
// configured database path.
func loadConfig(opts *RootOptions, db string) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if db != "" {
		cfg.DatabasePath = db
	}
	return cfg, nil
}

// newLogger builds the slog logger for cfg. Verbose forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openSession opens the configured database and recovers the ledger.
// Logs go to the command's stderr.
func openSession(ctx context.Context, opts *RootOptions, db string, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(opts, db)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	logger.Debug("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	rec, err := engine.Recover(ctx, st)
	if err != nil {
		st.Close()
		code := ExitCommandError
		if errors.Is(err, engine.ErrDiverged) {
			code = ExitFailure
		}
		return nil, WrapExitError(code, "failed to recover ledger", err)
	}
	logger.Debug("ledger recovered",
		"seq", rec.LastSeq,
		"snapshot_seq", rec.SnapshotSeq,
		"replayed", rec.Applied,
	)

	return &session{cfg: cfg, store: st, logger: logger, recovery: rec}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// newEngine creates an engine that resumes the recovered ledger and appends
// to the session's log.
func (s *session) newEngine(extra ...engine.Option) *engine.Engine {
	opts := []engine.Option{
		engine.FromRecovery(s.recovery),
		engine.WithLog(s.store),
		engine.WithLogger(s.logger),
		engine.WithSnapshotInterval(s.cfg.SnapshotInterval),
		engine.WithQueueWarn(s.cfg.QueueWarn),
	}
	return engine.New(append(opts, extra...)...)
}

// withEngine runs an engine for the duration of fn, then stops it and
// waits for queued operations to finish.
func (s *session) withEngine(ctx context.Context, fn func(*engine.Engine) error, extra ...engine.Option) error {
	eng := s.newEngine(extra...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()

	fnErr := fn(eng)
	eng.Stop()
	runErr := <-done
	if fnErr != nil {
		return fnErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}
	return nil
}

// OpRequest is an operation as submitted on the command line, in op files
// and on the run command's input stream.
type OpRequest struct {
	ledger.Operation `yaml:",inline"`

	// Correlation groups related operations. Generated when empty.
	Correlation string `json:"correlation,omitempty" yaml:"correlation,omitempty"`
}

// submit sends one request and returns the receipt. A ledger rejection is
// returned as opErr; anything else is a command failure.
func submit(ctx context.Context, eng *engine.Engine, req OpRequest) (receipt engine.Receipt, opErr error, err error) {
	var subOpts []engine.SubmitOption
	if req.Correlation != "" {
		subOpts = append(subOpts, engine.WithCorrelation(req.Correlation))
	}

	receipt, submitErr := eng.Submit(ctx, req.Operation, subOpts...)
	if submitErr == nil {
		return receipt, nil, nil
	}
	var lerr *ledger.Error
	if errors.As(submitErr, &lerr) {
		return receipt, submitErr, nil
	}
	return receipt, nil, fmt.Errorf("submit %s: %w", req.Kind, submitErr)
}
