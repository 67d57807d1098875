package ledger

import "time"

// RequestService opens a service request.
//
// The balance (or pool) check here is advisory: nothing is debited until
// AcceptService, which checks again. A request can therefore be opened and
// later fail acceptance because the payer spent the credits meanwhile.
func (s *State) RequestService(requester MemberID, description string, credits int64, emergency bool, now time.Time) (uint64, []Event, error) {
	const op = KindRequestService

	if _, err := s.member(op, requester); err != nil {
		return 0, nil, err
	}
	description = normalizeText(description)
	if description == "" {
		return 0, nil, reject(op, CodeInvalidInput, "description must not be empty")
	}
	if credits <= 0 {
		return 0, nil, reject(op, CodeInvalidInput, "credits required must be positive, got %d", credits)
	}
	if emergency {
		if s.pool < credits {
			return 0, nil, reject(op, CodeInsufficientPoolBalance, "pool has %d credits, request needs %d", s.pool, credits)
		}
	} else if err := s.canDebit(op, requester, credits); err != nil {
		return 0, nil, err
	}

	id := s.nextService
	s.nextService++
	s.services[id] = &ServiceRequest{
		ID:              id,
		Requester:       requester,
		Description:     description,
		CreditsRequired: credits,
		CreatedAt:       now,
		Status:          StatusOpen,
		IsEmergency:     emergency,
	}
	s.touch(requester, now)

	return id, []Event{newEvent(EventServiceRequested,
		"service_id", utoa(id),
		"requester", string(requester),
		"credits", itoa(credits),
		"emergency", boolString(emergency),
	)}, nil
}

// AcceptService assigns provider to an open request and locks its credits in
// escrow, debiting the requester or reserving from the pool.
func (s *State) AcceptService(provider MemberID, serviceID uint64, now time.Time) ([]Event, error) {
	const op = KindAcceptService

	p, err := s.member(op, provider)
	if err != nil {
		return nil, err
	}
	r, err := s.service(op, serviceID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusOpen {
		return nil, reject(op, CodeInvalidState, "service %d is %s, not %s", serviceID, r.Status, StatusOpen)
	}
	if provider == r.Requester {
		return nil, reject(op, CodeUnauthorized, "member %s cannot accept their own request", provider)
	}
	if p.Reputation < MinProviderReputation {
		return nil, reject(op, CodeUnauthorized, "reputation %d is below the minimum %d", p.Reputation, MinProviderReputation)
	}
	if r.IsEmergency {
		if s.pool < r.CreditsRequired {
			return nil, reject(op, CodeInsufficientPoolBalance, "pool has %d credits, request needs %d", s.pool, r.CreditsRequired)
		}
	} else if err := s.canDebit(op, r.Requester, r.CreditsRequired); err != nil {
		return nil, err
	}

	if r.IsEmergency {
		if err := s.reserve(op, r.CreditsRequired); err != nil {
			return nil, err
		}
	} else if err := s.debit(op, r.Requester, r.CreditsRequired); err != nil {
		return nil, err
	}
	s.escrow += r.CreditsRequired
	r.Locked = true
	r.Provider = provider
	r.Status = StatusAccepted
	s.touch(provider, now)

	return []Event{newEvent(EventServiceAccepted,
		"service_id", utoa(serviceID),
		"provider", string(provider),
	)}, nil
}

// CompleteService releases escrow to the provider. Either participant may
// complete an Accepted or InProgress request.
func (s *State) CompleteService(caller MemberID, serviceID uint64, now time.Time) ([]Event, error) {
	const op = KindCompleteService

	r, err := s.service(op, serviceID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(caller) {
		return nil, reject(op, CodeUnauthorized, "member %q is not a participant of service %d", caller, serviceID)
	}
	if r.Status != StatusAccepted && r.Status != StatusInProgress {
		return nil, reject(op, CodeInvalidState, "service %d is %s", serviceID, r.Status)
	}
	p, err := s.member(op, r.Provider)
	if err != nil {
		return nil, err
	}

	if err := s.credit(op, r.Provider, r.CreditsRequired); err != nil {
		return nil, err
	}
	s.escrow -= r.CreditsRequired
	r.Locked = false
	r.Status = StatusCompleted
	p.ServicesCompleted++
	p.Reputation += CompletionReputation
	s.touch(r.Requester, now)
	s.touch(r.Provider, now)

	from := r.Requester
	if r.IsEmergency {
		from = PoolAccount
	}
	return []Event{
		newEvent(EventServiceCompleted,
			"service_id", utoa(serviceID),
			"provider", string(r.Provider),
		),
		newEvent(EventTokensTransferred,
			"from", string(from),
			"to", string(r.Provider),
			"amount", itoa(r.CreditsRequired),
		),
	}, nil
}

// service returns the request or a NotFound rejection.
func (s *State) service(op Kind, id uint64) (*ServiceRequest, error) {
	r, ok := s.services[id]
	if !ok {
		return nil, reject(op, CodeNotFound, "service %d does not exist", id)
	}
	return r, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
