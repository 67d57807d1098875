package ledger

import (
	"strings"
	"time"
)

// Register creates a member record with the registration grant.
//
// Fails with AlreadyRegistered if id already has a record and InvalidInput
// if id or skills is empty.
func (s *State) Register(id MemberID, skills string, now time.Time) ([]Event, error) {
	skills = normalizeText(skills)

	if strings.TrimSpace(string(id)) == "" {
		return nil, reject(KindRegister, CodeInvalidInput, "member identity is empty")
	}
	if _, ok := s.members[id]; ok {
		return nil, reject(KindRegister, CodeAlreadyRegistered, "member %s is already registered", id)
	}
	if skills == "" {
		return nil, reject(KindRegister, CodeInvalidInput, "skills must not be empty")
	}

	s.members[id] = &Member{
		ID:           id,
		Balance:      RegistrationGrant,
		Reputation:   InitialReputation,
		Registered:   true,
		Skills:       skills,
		LastActivity: now,
	}

	return []Event{newEvent(EventMemberRegistered, "member", string(id))}, nil
}

// member returns the registered member or a NotRegistered rejection.
func (s *State) member(op Kind, id MemberID) (*Member, error) {
	m, ok := s.members[id]
	if !ok || !m.Registered {
		return nil, reject(op, CodeNotRegistered, "member %q is not registered", id)
	}
	return m, nil
}

// tokenExpired is true iff now is strictly after the expiry window.
func tokenExpired(m *Member, now time.Time) bool {
	return now.After(m.LastActivity.Add(ExpiryWindow))
}
