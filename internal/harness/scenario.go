package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/timebank/internal/ledger"
)

// Scenario defines a ledger test scenario.
// Scenarios drive the engine through a sequence of operations and assert on
// the resulting trace, log and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 time of the first operation.
	// Defaults to testutil.DefaultStart.
	Start string `yaml:"start,omitempty"`

	// Step is how far the clock moves between operations. Defaults to 1m.
	Step string `yaml:"step,omitempty"`

	// Correlation, when set, is used for every operation. Otherwise each
	// operation gets "<name>-0001", "<name>-0002", ...
	Correlation string `yaml:"correlation,omitempty"`

	// SnapshotInterval makes the engine write snapshots while the scenario
	// runs. 0 disables them.
	SnapshotInterval int `yaml:"snapshot_interval,omitempty"`

	// Setup operations establish initial state and must all succeed.
	Setup []FlowStep `yaml:"setup,omitempty"`

	// Flow contains the operations under test with their expected outcomes.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace, log and state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep submits one operation.
type FlowStep struct {
	// Invoke is the operation kind, e.g. "request_service".
	Invoke string `yaml:"invoke"`

	// Caller is the authenticated member identity.
	Caller string `yaml:"caller"`

	// Args holds the kind-specific operation fields.
	Args StepArgs `yaml:"args,omitempty"`

	// Advance moves the clock forward before the operation, e.g. "9000h".
	Advance string `yaml:"advance,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the operation must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// StepArgs are the operation fields a step may set.
type StepArgs struct {
	Skills      string `yaml:"skills,omitempty"      json:"skills,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Reason      string `yaml:"reason,omitempty"      json:"reason,omitempty"`
	Credits     int64  `yaml:"credits,omitempty"     json:"credits,omitempty"`
	Emergency   bool   `yaml:"emergency,omitempty"   json:"emergency,omitempty"`
	ServiceID   uint64 `yaml:"service_id,omitempty"  json:"service_id,omitempty"`
	DisputeID   uint64 `yaml:"dispute_id,omitempty"  json:"dispute_id,omitempty"`
}

// Operation builds the ledger operation for a step. At is left zero so the
// engine stamps it from the scenario clock.
func (s FlowStep) Operation() (ledger.Operation, error) {
	kind, err := ledger.ParseKind(s.Invoke)
	if err != nil {
		return ledger.Operation{}, err
	}
	return ledger.Operation{
		Kind:        kind,
		Caller:      ledger.MemberID(s.Caller),
		Skills:      s.Args.Skills,
		Description: s.Args.Description,
		Reason:      s.Args.Reason,
		Credits:     s.Args.Credits,
		Emergency:   s.Args.Emergency,
		ServiceID:   s.Args.ServiceID,
		DisputeID:   s.Args.DisputeID,
	}, nil
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Case is "ok" or a rejection code such as "InsufficientBalance".
	Case string `yaml:"case"`

	// ServiceID and DisputeID, when non-zero, must match the allocated id.
	ServiceID uint64 `yaml:"service_id,omitempty"`
	DisputeID uint64 `yaml:"dispute_id,omitempty"`

	// Events, when set, must equal the emitted event names in order.
	Events []string `yaml:"events,omitempty"`
}

// CaseOK is the expected case of a successful step.
const CaseOK = "ok"

// Assertion validates trace, log or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_count": Check an operation kind appears exactly N times
	// - "trace_order": Check operation kinds appear in order
	// - "event_count": Check the log holds exactly N events with a name
	// - "final_state": Check fields of a member, service, dispute or the pool
	// - "invariants": Check the ledger invariants hold
	Type string `yaml:"type"`

	// Invoke is the operation kind (trace_count). With Case set only
	// steps with that outcome are counted.
	Invoke string `yaml:"invoke,omitempty"`
	Case   string `yaml:"case,omitempty"`

	// Invokes is the expected order (trace_order).
	Invokes []string `yaml:"invokes,omitempty"`

	// Event is the event name (event_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of occurrences (trace_count, event_count).
	Count int `yaml:"count,omitempty"`

	// Entity is "member", "service", "dispute" or "pool" (final_state).
	Entity string `yaml:"entity,omitempty"`

	// ID selects the member, service or dispute (final_state).
	ID string `yaml:"id,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
	AssertEventCount = "event_count"
	AssertFinalState = "final_state"
	AssertInvariants = "invariants"
)

// Entities accepted by final_state.
const (
	EntityMember  = "member"
	EntityService = "service"
	EntityDispute = "dispute"
	EntityPool    = "pool"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if s.Step != "" {
		if d, err := time.ParseDuration(s.Step); err != nil || d < 0 {
			return fmt.Errorf("step must be a non-negative duration, got %q", s.Step)
		}
	}
	if s.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot_interval must be non-negative")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Case != CaseOK {
			return fmt.Errorf("setup[%d]: setup steps must succeed", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(step FlowStep) error {
	if step.Invoke == "" {
		return fmt.Errorf("invoke is required")
	}
	if _, err := ledger.ParseKind(step.Invoke); err != nil {
		return err
	}
	if step.Caller == "" {
		return fmt.Errorf("caller is required")
	}
	if step.Advance != "" {
		if d, err := time.ParseDuration(step.Advance); err != nil || d < 0 {
			return fmt.Errorf("advance must be a non-negative duration, got %q", step.Advance)
		}
	}
	if step.Expect != nil && step.Expect.Case == "" {
		return fmt.Errorf("expect: case is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Invoke == "" {
			return fmt.Errorf("assertions[%d]: invoke is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Invokes) == 0 {
			return fmt.Errorf("assertions[%d]: invokes list is required for trace_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertFinalState:
		switch a.Entity {
		case EntityMember, EntityService, EntityDispute:
			if a.ID == "" {
				return fmt.Errorf("assertions[%d]: id is required for %s final_state", index, a.Entity)
			}
		case EntityPool:
		default:
			return fmt.Errorf("assertions[%d]: unknown entity %q", index, a.Entity)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertInvariants:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
