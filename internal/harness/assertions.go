package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
	"github.com/roach88/timebank/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s by %s: %s\n", event.Seq, event.Invoke, event.Caller, event.Case)
		}
	}

	return buf.String()
}

// assertTraceCount checks if the operation kind appears exactly the
// specified number of times, optionally only with a given outcome.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if string(event.Invoke) != assertion.Invoke {
			continue
		}
		if assertion.Case != "" && event.Case != assertion.Case {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Invoke
		if assertion.Case != "" {
			what += " (" + assertion.Case + ")"
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks if operation kinds appear in the specified order.
// Kinds don't need to be consecutive (intervening operations are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Invokes) && string(event.Invoke) == assertion.Invokes[next] {
			next++
		}
	}

	if next < len(assertion.Invokes) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("operations in order: %v", assertion.Invokes),
			Actual:   fmt.Sprintf("missing %s after %v", assertion.Invokes[next], assertion.Invokes[:next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventCount counts logged events with the given name.
func assertEventCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	events, err := st.ReadEvents(ctx, assertion.Event)
	if err != nil {
		return fmt.Errorf("read events %s: %w", assertion.Event, err)
	}
	if len(events) != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d events", len(events)),
		}
	}
	return nil
}

// assertFinalState loads an entity from the committed state and validates
// the expected fields using subset semantics.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	var actual map[string]any
	err := actx.Engine.View(func(s *ledger.State) error {
		var err error
		actual, err = entityFields(s, assertion, actx.Now)
		return err
	})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %s to exist", assertion.Entity, assertion.ID),
			Actual:   err.Error(),
		}
	}

	// Sort keys for deterministic failure messages
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist on %s", key, assertion.Entity),
				Actual:   fmt.Sprintf("fields: %v", fieldNames(actual)),
			}
		}

		expectedValue, err := normalize(assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("final_state field %q: %w", key, err)
		}
		if !reflect.DeepEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %s field %q = %v", assertion.Entity, assertion.ID, key, expectedValue),
				Actual:   fmt.Sprintf("%v", actualValue),
			}
		}
	}
	return nil
}

// entityFields returns the JSON view of the selected entity as a map.
func entityFields(s *ledger.State, a Assertion, now time.Time) (map[string]any, error) {
	var (
		v     any
		extra map[string]any
	)

	switch a.Entity {
	case EntityMember:
		m, err := s.Member(ledger.MemberID(a.ID))
		if err != nil {
			return nil, err
		}
		expired, err := s.IsTokenExpired(m.ID, now)
		if err != nil {
			return nil, err
		}
		v = m
		extra = map[string]any{"token_expired": expired}
	case EntityService:
		id, err := strconv.ParseUint(a.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("service id %q: %w", a.ID, err)
		}
		r, err := s.Service(id)
		if err != nil {
			return nil, err
		}
		v = r
	case EntityDispute:
		id, err := strconv.ParseUint(a.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dispute id %q: %w", a.ID, err)
		}
		d, err := s.Dispute(id)
		if err != nil {
			return nil, err
		}
		v = d
	case EntityPool:
		v = map[string]any{
			"balance":        s.PoolBalance(),
			"escrow":         s.Escrow(),
			"members":        s.MemberCount(),
			"total_services": s.TotalServices(),
			"total_disputes": s.TotalDisputes(),
		}
	default:
		return nil, fmt.Errorf("unknown entity %q", a.Entity)
	}

	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	fields, ok := norm.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s is not an object", a.Entity)
	}
	for k, val := range extra {
		fields[k] = val
	}
	return fields, nil
}

// normalize round-trips v through JSON so YAML ints and Go int64s both
// compare as float64.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store  *store.Store
	Engine *engine.Engine

	// Now is the time token expiry is evaluated at.
	Now time.Time
	Ctx context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides log and state access for event_count,
// final_state and invariants assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertEventCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: event_count requires a store", i)
			} else {
				err = assertEventCount(actx.Ctx, actx.Store, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires an engine", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		case AssertInvariants:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: invariants requires an engine", i)
			} else {
				err = actx.Engine.View(func(s *ledger.State) error { return s.CheckInvariants() })
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
