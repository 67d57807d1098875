package ledger

import (
	"fmt"
	"time"
)

// Kind names an operation.
type Kind string

const (
	KindRegister        Kind = "register"
	KindRequestService  Kind = "request_service"
	KindAcceptService   Kind = "accept_service"
	KindCompleteService Kind = "complete_service"
	KindContribute      Kind = "contribute"
	KindRaiseDispute    Kind = "raise_dispute"
	KindVote            Kind = "vote"

	// Governance transitions. The state model has the edges but this core
	// defines no trigger for them; they are always rejected with NotSpecified.
	KindStartService   Kind = "start_service"
	KindCancelService  Kind = "cancel_service"
	KindResolveDispute Kind = "resolve_dispute"

	// KindQuery tags rejections produced by read-only queries.
	KindQuery Kind = "query"
)

// Kinds lists the operation kinds accepted by Apply in declaration order.
var Kinds = []Kind{
	KindRegister,
	KindRequestService,
	KindAcceptService,
	KindCompleteService,
	KindContribute,
	KindRaiseDispute,
	KindVote,
	KindStartService,
	KindCancelService,
	KindResolveDispute,
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// Operation is one caller action, already authenticated and ordered by the
// sequencer. Only the fields relevant to Kind are read.
type Operation struct {
	Kind   Kind      `json:"kind" yaml:"kind"`
	Caller MemberID  `json:"caller" yaml:"caller"`
	At     time.Time `json:"at" yaml:"at"`

	Skills      string `json:"skills,omitempty" yaml:"skills,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Credits     int64  `json:"credits,omitempty" yaml:"credits,omitempty"`
	Emergency   bool   `json:"emergency,omitempty" yaml:"emergency,omitempty"`
	ServiceID   uint64 `json:"service_id,omitempty" yaml:"service_id,omitempty"`
	DisputeID   uint64 `json:"dispute_id,omitempty" yaml:"dispute_id,omitempty"`
}

// Outcome is the result of a successfully applied operation.
type Outcome struct {
	// ServiceID is set by request_service.
	ServiceID uint64 `json:"service_id,omitempty"`

	// DisputeID is set by raise_dispute.
	DisputeID uint64 `json:"dispute_id,omitempty"`

	Events []Event `json:"events"`
}

// Apply dispatches op to its transition. A returned error is always a
// *Error and means the state is unchanged.
func (s *State) Apply(op Operation) (Outcome, error) {
	var (
		out    Outcome
		events []Event
		err    error
	)

	switch op.Kind {
	case KindRegister:
		events, err = s.Register(op.Caller, op.Skills, op.At)
	case KindRequestService:
		out.ServiceID, events, err = s.RequestService(op.Caller, op.Description, op.Credits, op.Emergency, op.At)
	case KindAcceptService:
		events, err = s.AcceptService(op.Caller, op.ServiceID, op.At)
	case KindCompleteService:
		events, err = s.CompleteService(op.Caller, op.ServiceID, op.At)
	case KindContribute:
		events, err = s.Contribute(op.Caller, op.Credits, op.At)
	case KindRaiseDispute:
		out.DisputeID, events, err = s.RaiseDispute(op.Caller, op.ServiceID, op.Reason, op.At)
	case KindVote:
		events, err = s.Vote(op.Caller, op.DisputeID, op.At)
	case KindStartService, KindCancelService, KindResolveDispute:
		err = reject(op.Kind, CodeNotSpecified, "transition is reserved for the governance layer")
	default:
		err = reject(op.Kind, CodeInvalidInput, "unknown operation kind %q", op.Kind)
	}
	if err != nil {
		return Outcome{}, err
	}

	out.Events = events
	return out, nil
}
