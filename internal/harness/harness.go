package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
	"github.com/roach88/timebank/internal/testutil"
)

// DefaultStep is the clock step used when a scenario sets none.
const DefaultStep = time.Minute

// Harness is the test execution engine.
// It runs scenarios through a real engine with a deterministic clock and
// correlation tokens.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.SteppingTime
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Execute setup steps, which must succeed
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the trace, log and final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock, err := scenarioClock(scenario)
	if err != nil {
		return nil, err
	}

	var corr engine.CorrelationGenerator = testutil.NewSequentialCorrelation(scenario.Name)
	if scenario.Correlation != "" {
		corr = testutil.NewFixedCorrelation(scenario.Correlation)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(
		engine.WithLog(st),
		engine.WithTimeSource(clock),
		engine.WithCorrelationGenerator(corr),
		engine.WithSnapshotInterval(scenario.SnapshotInterval),
		engine.WithLogger(logger),
	)

	h := &Harness{
		store:  st,
		engine: eng,
		clock:  clock,
		logger: logger,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()

	result := NewResult()
	execErr := h.execute(ctx, scenario, result)

	eng.Stop()
	if err := <-done; err != nil && execErr == nil {
		execErr = fmt.Errorf("engine: %w", err)
	}
	if execErr != nil {
		return nil, execErr
	}

	result.Digest, err = eng.Digest()
	if err != nil {
		return nil, fmt.Errorf("failed to compute state digest: %w", err)
	}

	actx := &AssertionContext{
		Store:  st,
		Engine: eng,
		Now:    clock.Peek(),
		Ctx:    ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func scenarioClock(s *Scenario) (*testutil.SteppingTime, error) {
	var start time.Time
	if s.Start != "" {
		var err error
		start, err = time.Parse(time.RFC3339, s.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
	}
	step := DefaultStep
	if s.Step != "" {
		var err error
		step, err = time.ParseDuration(s.Step)
		if err != nil {
			return nil, fmt.Errorf("step: %w", err)
		}
	}
	return testutil.NewSteppingTime(start, step), nil
}

func (h *Harness) execute(ctx context.Context, scenario *Scenario, result *Result) error {
	for i, step := range scenario.Setup {
		receipt, err := h.submit(ctx, step)
		if err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Invoke, err)
		}
		result.AddTrace(step, receipt)
		h.logger.Info("setup step completed", "step", i, "invoke", step.Invoke, "seq", receipt.Seq)
	}

	for i, step := range scenario.Flow {
		receipt, err := h.submit(ctx, step)
		if err != nil && ledger.CodeOf(err) == "" {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}
		result.AddTrace(step, receipt)

		for _, msg := range checkExpect(step, receipt) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, msg))
		}

		h.logger.Info("flow step completed",
			"step", i,
			"invoke", step.Invoke,
			"seq", receipt.Seq,
			"case", caseOf(receipt),
		)
	}
	return nil
}

// submit sends one step through the engine. A ledger rejection comes back
// as an error together with a valid receipt.
func (h *Harness) submit(ctx context.Context, step FlowStep) (engine.Receipt, error) {
	op, err := step.Operation()
	if err != nil {
		return engine.Receipt{}, err
	}
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return engine.Receipt{}, fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)
	}

	receipt, err := h.engine.Submit(ctx, op)
	var lerr *ledger.Error
	if err != nil && !errors.As(err, &lerr) {
		return engine.Receipt{}, err
	}
	return receipt, err
}

// checkExpect compares a receipt against the step's expect clause.
// Without a clause the step must succeed.
func checkExpect(step FlowStep, receipt engine.Receipt) []string {
	expect := step.Expect
	if expect == nil {
		expect = &ExpectClause{Case: CaseOK}
	}

	var msgs []string
	if got := caseOf(receipt); got != expect.Case {
		msgs = append(msgs, fmt.Sprintf("expected case %s, got %s", expect.Case, got))
	}
	if expect.ServiceID != 0 && expect.ServiceID != receipt.ServiceID {
		msgs = append(msgs, fmt.Sprintf("expected service_id %d, got %d", expect.ServiceID, receipt.ServiceID))
	}
	if expect.DisputeID != 0 && expect.DisputeID != receipt.DisputeID {
		msgs = append(msgs, fmt.Sprintf("expected dispute_id %d, got %d", expect.DisputeID, receipt.DisputeID))
	}
	if expect.Events != nil {
		names := make([]string, len(receipt.Events))
		for i, ev := range receipt.Events {
			names[i] = ev.Name
		}
		if !slices.Equal(names, expect.Events) {
			msgs = append(msgs, fmt.Sprintf("expected events %v, got %v", expect.Events, names))
		}
	}
	return msgs
}
