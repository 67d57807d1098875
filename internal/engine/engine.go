package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/timebank/internal/digest"
	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

// OperationLog persists sequenced operations. Implemented by *store.Store.
type OperationLog interface {
	Append(ctx context.Context, rec store.Record) error
	WriteSnapshot(ctx context.Context, snap store.SnapshotRecord) error
}

// EventSink receives every accepted record after it is logged.
// Publish runs on the Run goroutine and must not call Submit.
type EventSink interface {
	Publish(rec store.Record)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(rec store.Record)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(rec store.Record) { f(rec) }

// Receipt describes a sequenced operation. Rejected operations get a
// receipt too: they consume a seq and are logged with their code.
type Receipt struct {
	Seq         int64          `json:"seq"`
	ID          string         `json:"id"`
	Correlation string         `json:"correlation"`
	Kind        ledger.Kind    `json:"kind"`
	At          time.Time      `json:"at"`
	ServiceID   uint64         `json:"service_id,omitempty"`
	DisputeID   uint64         `json:"dispute_id,omitempty"`
	ErrorCode   ledger.Code    `json:"error_code,omitempty"`
	Events      []ledger.Event `json:"events"`
}

func receiptOf(rec store.Record) Receipt {
	return Receipt{
		Seq:         rec.Seq,
		ID:          rec.ID,
		Correlation: rec.Correlation,
		Kind:        rec.Operation.Kind,
		At:          rec.Operation.At,
		ServiceID:   rec.ServiceID,
		DisputeID:   rec.DisputeID,
		ErrorCode:   rec.ErrorCode,
		Events:      rec.Events,
	}
}

// Engine is the single writer in front of a ledger.State.
//
// Thread-safety model:
//   - Submit, View, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// Operations are applied strictly in queue order. Each is stamped with a seq
// from the logical clock, applied, and appended to the log before the next
// one starts. Readers in View only ever see logged state.
type Engine struct {
	mu     sync.RWMutex
	state  *ledger.State
	failed error

	clock     *Clock
	queue     *opQueue
	log       OperationLog
	sinks     []EventSink
	now       TimeSource
	corrGen   CorrelationGenerator
	logger    *slog.Logger
	metrics   engineMetrics
	registry  prometheus.Registerer
	snapEvery int
	queueWarn int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLog sets the operation log. Without one the engine is memory-only.
func WithLog(log OperationLog) Option {
	return func(e *Engine) { e.log = log }
}

// WithState starts the engine from an existing state, typically one
// produced by Recover.
func WithState(s *ledger.State) Option {
	return func(e *Engine) { e.state = s }
}

// WithClock sets the logical clock. Use NewClockAt to resume a log.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// FromRecovery resumes from a recovered state and log position.
func FromRecovery(r Recovery) Option {
	return func(e *Engine) {
		e.state = r.State
		e.clock = NewClockAt(r.LastSeq)
	}
}

// WithTimeSource sets where operation times come from when the submitter
// leaves At zero. Default: SystemTime.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) { e.now = ts }
}

// WithCorrelationGenerator sets the token source for operations submitted
// without a correlation. Default: UUIDv7Generator.
func WithCorrelationGenerator(g CorrelationGenerator) Option {
	return func(e *Engine) { e.corrGen = g }
}

// WithSink registers an event sink. Sinks run in registration order.
func WithSink(s EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegisterer registers the engine metrics on r. Default: a private
// registry, so several engines can coexist in one process.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Engine) { e.registry = r }
}

// WithSnapshotInterval writes a snapshot every n operations. 0 disables
// snapshots.
func WithSnapshotInterval(n int) Option {
	return func(e *Engine) { e.snapEvery = n }
}

// WithQueueWarn logs a warning whenever more than n operations are waiting.
// 0 disables the warning.
func WithQueueWarn(n int) Option {
	return func(e *Engine) { e.queueWarn = n }
}

// New creates an engine. Call Run to start sequencing.
func New(opts ...Option) *Engine {
	e := &Engine{
		queue:   newOpQueue(),
		now:     SystemTime{},
		corrGen: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.state == nil {
		e.state = ledger.New()
	}
	if e.clock == nil {
		e.clock = NewClock()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	e.metrics.init(e.registry)
	e.metrics.setState(e.state)
	e.metrics.lastSeq.Set(float64(e.clock.Current()))

	return e
}

// SubmitOption adjusts a single submission.
type SubmitOption func(*request)

// WithCorrelation submits under an existing correlation token.
func WithCorrelation(token string) SubmitOption {
	return func(r *request) { r.correlation = token }
}

// Submit enqueues op and waits for it to be sequenced.
//
// A ledger rejection returns the receipt together with the *ledger.Error.
// If ctx ends first Submit returns ctx.Err(), but the operation stays queued
// and may still be applied.
func (e *Engine) Submit(ctx context.Context, op ledger.Operation, opts ...SubmitOption) (Receipt, error) {
	r := &request{op: op, reply: make(chan result, 1)}
	for _, opt := range opts {
		opt(r)
	}

	if !e.queue.Enqueue(r) {
		return Receipt{}, e.stoppedErr()
	}

	depth := e.queue.Len()
	e.metrics.queueDepth.Set(float64(depth))
	if e.queueWarn > 0 && depth > e.queueWarn {
		e.logger.Warn("operation queue backing up", "depth", depth, "threshold", e.queueWarn)
	}

	select {
	case res := <-r.reply:
		return res.receipt, res.err
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// View runs fn against the committed state under a read lock. fn must not
// retain or modify the state.
func (e *Engine) View(fn func(*ledger.State) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.failed != nil {
		return fmt.Errorf("%w: %w", ErrStopped, e.failed)
	}
	return fn(e.state)
}

// Digest returns the state digest of the committed state.
func (e *Engine) Digest() (string, error) {
	var d string
	err := e.View(func(s *ledger.State) error {
		var err error
		d, err = digest.StateDigest(s.Snapshot())
		return err
	})
	return d, err
}

// Seq returns the seq of the last sequenced operation.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

// QueueLen returns the number of operations waiting to be sequenced.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run is the single-writer loop. It blocks until ctx is cancelled, Stop is
// called and the queue is empty, or the operation log fails.
//
// Operations still queued when Run returns are answered with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "seq", e.clock.Current())
	defer func() {
		e.queue.Close()
		e.drain()
	}()

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("engine stopping: context cancelled")
			return err
		}

		if r, ok := e.queue.TryDequeue(); ok {
			e.metrics.queueDepth.Set(float64(e.queue.Len()))
			if err := e.process(ctx, r); err != nil {
				e.logger.Error("engine stopping: operation log failed", "error", err)
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Close, so this also fires
			// once per loop after Stop until the queue is drained.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop stops accepting operations. Run sequences what is already queued
// and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// process sequences one request. The returned error is always a LogError and
// means the engine must stop.
func (e *Engine) process(ctx context.Context, r *request) error {
	op := r.op
	if op.At.IsZero() {
		op.At = e.now.Now()
	}
	op.At = op.At.UTC()

	correlation := r.correlation
	if correlation == "" {
		correlation = e.corrGen.Generate()
	}

	seq := e.clock.Next()
	id, err := digest.OperationID(seq, correlation, op)
	if err != nil {
		// Nothing was applied; the seq is left unused.
		e.logger.Error("operation id", "seq", seq, "kind", op.Kind, "error", err)
		r.reply <- result{err: err}
		return nil
	}

	e.mu.Lock()
	out, applyErr := e.state.Apply(op)
	rec := store.Record{
		Seq:         seq,
		ID:          id,
		Correlation: correlation,
		Operation:   op,
		Outcome:     store.OutcomeOK,
		ServiceID:   out.ServiceID,
		DisputeID:   out.DisputeID,
		Events:      out.Events,
	}
	if applyErr != nil {
		rec.Outcome = store.OutcomeRejected
		rec.ErrorCode = ledger.CodeOf(applyErr)
	}
	if rec.Events == nil {
		rec.Events = []ledger.Event{}
	}

	if e.log != nil {
		// An applied operation is always logged, even if the caller's
		// context ends mid-write.
		if err := e.log.Append(context.WithoutCancel(ctx), rec); err != nil {
			e.failed = &LogError{Seq: seq, Err: err}
			e.mu.Unlock()
			r.reply <- result{err: e.failed}
			return e.failed
		}
	}
	e.metrics.observe(rec, e.state)

	var snap *store.SnapshotRecord
	if e.log != nil && e.snapEvery > 0 && seq%int64(e.snapEvery) == 0 {
		snap = &store.SnapshotRecord{Seq: seq, State: e.state.Snapshot()}
	}
	e.mu.Unlock()

	if applyErr != nil {
		e.logger.Info("operation rejected",
			"seq", seq,
			"kind", op.Kind,
			"caller", op.Caller,
			"code", rec.ErrorCode,
		)
	} else {
		e.logger.Info("operation applied",
			"seq", seq,
			"kind", op.Kind,
			"caller", op.Caller,
			"events", len(rec.Events),
		)
		for _, sink := range e.sinks {
			sink.Publish(rec)
		}
	}

	if snap != nil {
		e.writeSnapshot(context.WithoutCancel(ctx), *snap)
	}

	r.reply <- result{receipt: receiptOf(rec), err: applyErr}
	return nil
}

// writeSnapshot stores a snapshot. Failures are logged, not fatal: the log
// alone is enough to recover.
func (e *Engine) writeSnapshot(ctx context.Context, snap store.SnapshotRecord) {
	d, err := digest.StateDigest(snap.State)
	if err != nil {
		e.logger.Warn("snapshot digest failed", "seq", snap.Seq, "error", err)
		return
	}
	snap.Digest = d
	if err := e.log.WriteSnapshot(ctx, snap); err != nil {
		e.logger.Warn("snapshot write failed", "seq", snap.Seq, "error", err)
		return
	}
	e.logger.Debug("snapshot written", "seq", snap.Seq, "digest", d)
}

// drain answers every queued request with ErrStopped.
func (e *Engine) drain() {
	err := e.stoppedErr()
	for _, r := range e.queue.Drain() {
		r.reply <- result{err: err}
	}
	e.metrics.queueDepth.Set(0)
}

func (e *Engine) stoppedErr() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.failed != nil {
		return fmt.Errorf("%w: %w", ErrStopped, e.failed)
	}
	return ErrStopped
}
