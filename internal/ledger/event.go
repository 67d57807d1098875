package ledger

import (
	"strconv"
)

// Event names emitted by successful operations.
const (
	EventMemberRegistered          = "MemberRegistered"
	EventServiceRequested          = "ServiceRequested"
	EventServiceAccepted           = "ServiceAccepted"
	EventServiceCompleted          = "ServiceCompleted"
	EventTokensTransferred         = "TokensTransferred"
	EventEmergencyPoolContribution = "EmergencyPoolContribution"
	EventDisputeRaised             = "DisputeRaised"
	EventDisputeVoteCast           = "DisputeVoteCast"
)

// Event is a domain event with its indexed fields.
//
// Fields are flat strings so the event can be stored and compared without
// knowing its schema.
type Event struct {
	Name   string            `json:"name" yaml:"name"`
	Fields map[string]string `json:"fields" yaml:"fields"`
}

// Field returns a field value or "".
func (e Event) Field(key string) string {
	return e.Fields[key]
}

func newEvent(name string, kv ...string) Event {
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return Event{Name: name, Fields: fields}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func utoa(n uint64) string { return strconv.FormatUint(n, 10) }
