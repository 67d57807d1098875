package ledger

import "time"

// Contribute moves amount credits from the member into the emergency pool and
// grants ContributionMultiplier × amount reputation.
func (s *State) Contribute(id MemberID, amount int64, now time.Time) ([]Event, error) {
	m, err := s.member(KindContribute, id)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, reject(KindContribute, CodeInvalidInput, "contribution must be positive, got %d", amount)
	}
	if err := s.canDebit(KindContribute, id, amount); err != nil {
		return nil, err
	}

	if err := s.debit(KindContribute, id, amount); err != nil {
		return nil, err
	}
	s.pool += amount
	m.Reputation += ContributionMultiplier * amount
	s.touch(id, now)

	return []Event{newEvent(EventEmergencyPoolContribution,
		"member", string(id),
		"amount", itoa(amount),
	)}, nil
}

// reserve takes amount credits out of the pool into escrow.
func (s *State) reserve(op Kind, amount int64) error {
	if amount <= 0 {
		return reject(op, CodeInvalidInput, "reserve amount must be positive, got %d", amount)
	}
	if s.pool < amount {
		return reject(op, CodeInsufficientPoolBalance, "pool has %d credits, needs %d", s.pool, amount)
	}
	s.pool -= amount
	return nil
}

// release returns amount credits to the pool. No operation in this core
// drives it; it exists for the governance layer that refunds cancelled
// emergency requests.
func (s *State) release(op Kind, amount int64) error {
	if amount <= 0 {
		return reject(op, CodeInvalidInput, "release amount must be positive, got %d", amount)
	}
	s.pool += amount
	return nil
}
