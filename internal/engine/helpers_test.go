package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
	"github.com/roach88/timebank/internal/testutil"
)

var testStart = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestEngine builds an engine with deterministic time and correlation.
func newTestEngine(opts ...Option) *Engine {
	base := []Option{
		WithTimeSource(testutil.NewSteppingTime(testStart, time.Minute)),
		WithCorrelationGenerator(testutil.NewSequentialCorrelation("c")),
		WithLogger(quietLogger()),
	}
	return New(append(base, opts...)...)
}

// startEngine runs e in the background. The returned function stops it and
// waits for Run to return, and reports Run's error.
func startEngine(t *testing.T, e *Engine) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var once sync.Once
	var runErr error
	return func() error {
		once.Do(func() {
			e.Stop()
			select {
			case runErr = <-done:
			case <-time.After(5 * time.Second):
				t.Error("engine did not stop")
			}
			cancel()
		})
		return runErr
	}
}

func submit(t *testing.T, e *Engine, op ledger.Operation) Receipt {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := e.Submit(ctx, op)
	require.NoError(t, err, "submit %s by %s", op.Kind, op.Caller)
	return r
}

func register(id string) ledger.Operation {
	return ledger.Operation{Kind: ledger.KindRegister, Caller: ledger.MemberID(id), Skills: "odd jobs"}
}

// failingLog accepts appends until failAt, then returns errLogDown.
type failingLog struct {
	mu      sync.Mutex
	failAt  int64
	records []store.Record
}

var errLogDown = errors.New("disk full")

func (l *failingLog) Append(_ context.Context, rec store.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Seq >= l.failAt {
		return errLogDown
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *failingLog) WriteSnapshot(context.Context, store.SnapshotRecord) error {
	return nil
}
