package ledger

import "time"

// RaiseDispute opens a dispute case against a non-terminal request and moves
// the request to Disputed. Escrowed credits stay locked until an external
// governance decision.
func (s *State) RaiseDispute(complainant MemberID, serviceID uint64, reason string, now time.Time) (uint64, []Event, error) {
	const op = KindRaiseDispute

	if _, err := s.member(op, complainant); err != nil {
		return 0, nil, err
	}
	r, err := s.service(op, serviceID)
	if err != nil {
		return 0, nil, err
	}
	if !r.IsParticipant(complainant) {
		return 0, nil, reject(op, CodeUnauthorized, "member %s is not a participant of service %d", complainant, serviceID)
	}
	if r.Status.Terminal() || r.Status == StatusDisputed {
		return 0, nil, reject(op, CodeInvalidState, "service %d is %s", serviceID, r.Status)
	}
	reason = normalizeText(reason)
	if reason == "" {
		return 0, nil, reject(op, CodeInvalidInput, "reason must not be empty")
	}

	id := s.nextDispute
	s.nextDispute++
	s.disputes[id] = &DisputeCase{
		ID:          id,
		ServiceID:   serviceID,
		Complainant: complainant,
		Reason:      reason,
		CreatedAt:   now,
	}
	r.Status = StatusDisputed
	s.touch(complainant, now)

	return id, []Event{newEvent(EventDisputeRaised,
		"dispute_id", utoa(id),
		"service_id", utoa(serviceID),
		"complainant", string(complainant),
	)}, nil
}

// Vote records one vote per member per dispute.
//
// The tally has no resolution threshold; an external governance layer reads
// VoteCount and decides.
func (s *State) Vote(voter MemberID, disputeID uint64, now time.Time) ([]Event, error) {
	const op = KindVote

	if _, err := s.member(op, voter); err != nil {
		return nil, err
	}
	d, ok := s.disputes[disputeID]
	if !ok {
		return nil, reject(op, CodeNotFound, "dispute %d does not exist", disputeID)
	}
	key := voteKey{member: voter, dispute: disputeID}
	if _, voted := s.votes[key]; voted {
		return nil, reject(op, CodeAlreadyVoted, "member %s already voted on dispute %d", voter, disputeID)
	}
	if d.Resolved {
		return nil, reject(op, CodeInvalidState, "dispute %d is resolved", disputeID)
	}

	s.votes[key] = struct{}{}
	d.VoteCount++
	s.touch(voter, now)

	return []Event{newEvent(EventDisputeVoteCast,
		"dispute_id", utoa(disputeID),
		"voter", string(voter),
		"vote_count", itoa(d.VoteCount),
	)}, nil
}
