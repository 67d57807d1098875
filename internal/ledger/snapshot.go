package ledger

import (
	"fmt"
	"sort"
)

// Snapshot is a deterministic, serializable copy of the ledger. Slices are
// sorted by id so two equal states always encode to the same bytes.
type Snapshot struct {
	Members     []Member         `json:"members"`
	Services    []ServiceRequest `json:"services"`
	Disputes    []DisputeCase    `json:"disputes"`
	Votes       []Vote           `json:"votes"`
	Pool        int64            `json:"pool"`
	Escrow      int64            `json:"escrow"`
	NextService uint64           `json:"next_service"`
	NextDispute uint64           `json:"next_dispute"`
}

// Vote is one recorded (member, dispute) pair.
type Vote struct {
	Member    MemberID `json:"member"`
	DisputeID uint64   `json:"dispute_id"`
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Members:     make([]Member, 0, len(s.members)),
		Services:    make([]ServiceRequest, 0, len(s.services)),
		Disputes:    make([]DisputeCase, 0, len(s.disputes)),
		Votes:       make([]Vote, 0, len(s.votes)),
		Pool:        s.pool,
		Escrow:      s.escrow,
		NextService: s.nextService,
		NextDispute: s.nextDispute,
	}
	for _, m := range s.members {
		m := *m
		m.LastActivity = m.LastActivity.UTC()
		snap.Members = append(snap.Members, m)
	}
	sort.Slice(snap.Members, func(i, j int) bool { return snap.Members[i].ID < snap.Members[j].ID })

	for _, r := range s.services {
		r := *r
		r.CreatedAt = r.CreatedAt.UTC()
		snap.Services = append(snap.Services, r)
	}
	sort.Slice(snap.Services, func(i, j int) bool { return snap.Services[i].ID < snap.Services[j].ID })

	for _, d := range s.disputes {
		d := *d
		d.CreatedAt = d.CreatedAt.UTC()
		snap.Disputes = append(snap.Disputes, d)
	}
	sort.Slice(snap.Disputes, func(i, j int) bool { return snap.Disputes[i].ID < snap.Disputes[j].ID })

	for k := range s.votes {
		snap.Votes = append(snap.Votes, Vote{Member: k.member, DisputeID: k.dispute})
	}
	sort.Slice(snap.Votes, func(i, j int) bool {
		if snap.Votes[i].DisputeID != snap.Votes[j].DisputeID {
			return snap.Votes[i].DisputeID < snap.Votes[j].DisputeID
		}
		return snap.Votes[i].Member < snap.Votes[j].Member
	})

	return snap
}

// Restore rebuilds a State from a snapshot and verifies its invariants.
func Restore(snap Snapshot) (*State, error) {
	s := New()
	if snap.NextService > 0 {
		s.nextService = snap.NextService
	}
	if snap.NextDispute > 0 {
		s.nextDispute = snap.NextDispute
	}
	s.pool = snap.Pool
	s.escrow = snap.Escrow

	for _, m := range snap.Members {
		if _, dup := s.members[m.ID]; dup {
			return nil, fmt.Errorf("restore: duplicate member %s", m.ID)
		}
		m := m
		s.members[m.ID] = &m
	}
	for _, r := range snap.Services {
		if r.ID == 0 || r.ID >= s.nextService {
			return nil, fmt.Errorf("restore: service id %d outside [1, %d)", r.ID, s.nextService)
		}
		r := r
		s.services[r.ID] = &r
	}
	for _, d := range snap.Disputes {
		if d.ID == 0 || d.ID >= s.nextDispute {
			return nil, fmt.Errorf("restore: dispute id %d outside [1, %d)", d.ID, s.nextDispute)
		}
		d := d
		s.disputes[d.ID] = &d
	}
	for _, v := range snap.Votes {
		s.votes[voteKey{member: v.Member, dispute: v.DisputeID}] = struct{}{}
	}

	if err := s.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return s, nil
}
