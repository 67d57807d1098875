package ledger

import "time"

// Member returns a copy of the member profile.
func (s *State) Member(id MemberID) (Member, error) {
	m, err := s.member(KindQuery, id)
	if err != nil {
		return Member{}, err
	}
	return *m, nil
}

// Service returns a copy of the service request.
func (s *State) Service(id uint64) (ServiceRequest, error) {
	r, err := s.service(KindQuery, id)
	if err != nil {
		return ServiceRequest{}, err
	}
	return *r, nil
}

// Dispute returns a copy of the dispute case.
func (s *State) Dispute(id uint64) (DisputeCase, error) {
	d, ok := s.disputes[id]
	if !ok {
		return DisputeCase{}, reject(KindQuery, CodeNotFound, "dispute %d does not exist", id)
	}
	return *d, nil
}

// HasVoted reports whether member voted on dispute.
func (s *State) HasVoted(member MemberID, disputeID uint64) bool {
	_, ok := s.votes[voteKey{member: member, dispute: disputeID}]
	return ok
}

// PoolBalance returns the emergency pool balance.
func (s *State) PoolBalance() int64 { return s.pool }

// Escrow returns the credits currently locked in accepted requests.
func (s *State) Escrow() int64 { return s.escrow }

// TotalServices returns the number of service requests ever issued.
func (s *State) TotalServices() uint64 { return s.nextService - 1 }

// TotalDisputes returns the number of dispute cases ever raised.
func (s *State) TotalDisputes() uint64 { return s.nextDispute - 1 }

// MemberCount returns the number of registered members.
func (s *State) MemberCount() int { return len(s.members) }

// IsTokenExpired reports whether the member has been inactive for longer than
// ExpiryWindow as of now. Advisory only: nothing forfeits expired credits.
func (s *State) IsTokenExpired(id MemberID, now time.Time) (bool, error) {
	m, err := s.member(KindQuery, id)
	if err != nil {
		return false, err
	}
	return tokenExpired(m, now), nil
}
