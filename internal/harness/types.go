package harness

import (
	"time"

	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
)

// TraceEvent is one sequenced operation as the engine reported it.
type TraceEvent struct {
	Seq       int64          `json:"seq"`
	Invoke    ledger.Kind    `json:"invoke"`
	Caller    string         `json:"caller"`
	At        time.Time      `json:"at"`
	Args      StepArgs       `json:"args"`
	Case      string         `json:"case"`
	ServiceID uint64         `json:"service_id,omitempty"`
	DisputeID uint64         `json:"dispute_id,omitempty"`
	Events    []ledger.Event `json:"events"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step matched its expect clause and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains all setup and flow operations in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Digest is the state digest after the last step.
	Digest string `json:"digest"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace records a sequenced step.
func (r *Result) AddTrace(step FlowStep, receipt engine.Receipt) {
	events := receipt.Events
	if events == nil {
		events = []ledger.Event{}
	}
	r.Trace = append(r.Trace, TraceEvent{
		Seq:       receipt.Seq,
		Invoke:    receipt.Kind,
		Caller:    step.Caller,
		At:        receipt.At,
		Args:      step.Args,
		Case:      caseOf(receipt),
		ServiceID: receipt.ServiceID,
		DisputeID: receipt.DisputeID,
		Events:    events,
	})
}

func caseOf(receipt engine.Receipt) string {
	if receipt.ErrorCode != "" {
		return string(receipt.ErrorCode)
	}
	return CaseOK
}
