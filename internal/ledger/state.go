package ledger

import (
	"fmt"
	"sort"
	"time"
)

// Ledger parameters. Changing any of these changes replay results.
const (
	RegistrationGrant      int64 = 5
	InitialReputation      int64 = 100
	MinProviderReputation  int64 = 50
	CompletionReputation   int64 = 5
	ContributionMultiplier int64 = 2

	// ExpiryWindow is how long a member may stay inactive before their
	// credits are reported as expired.
	ExpiryWindow = 365 * 24 * time.Hour
)

// MemberID is an opaque, externally authenticated member identity.
type MemberID string

// PoolAccount names the emergency pool in TokensTransferred events.
const PoolAccount MemberID = "emergency-pool"

// Member is a registered participant.
type Member struct {
	ID                MemberID  `json:"id"`
	Balance           int64     `json:"balance"`
	Reputation        int64     `json:"reputation"`
	Registered        bool      `json:"registered"`
	Skills            string    `json:"skills"`
	ServicesCompleted int64     `json:"services_completed"`
	LastActivity      time.Time `json:"last_activity"`
}

// Status is the lifecycle state of a service request.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusAccepted   Status = "Accepted"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusDisputed   Status = "Disputed"
	StatusCancelled  Status = "Cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ServiceRequest is a request for help, paid for by the requester or the pool.
type ServiceRequest struct {
	ID              uint64    `json:"id"`
	Requester       MemberID  `json:"requester"`
	Provider        MemberID  `json:"provider,omitempty"`
	Description     string    `json:"description"`
	CreditsRequired int64     `json:"credits_required"`
	CreatedAt       time.Time `json:"created_at"`
	Status          Status    `json:"status"`
	IsEmergency     bool      `json:"is_emergency"`

	// Locked is true while CreditsRequired sits in escrow.
	Locked bool `json:"locked"`
}

// HasProvider reports whether a provider has accepted the request.
func (r ServiceRequest) HasProvider() bool {
	return r.Provider != ""
}

// IsParticipant reports whether id is the requester or provider.
func (r ServiceRequest) IsParticipant(id MemberID) bool {
	return id != "" && (id == r.Requester || id == r.Provider)
}

// DisputeCase records a contested service request and its vote tally.
type DisputeCase struct {
	ID          uint64    `json:"id"`
	ServiceID   uint64    `json:"service_id"`
	Complainant MemberID  `json:"complainant"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
	Resolved    bool      `json:"resolved"`
	VoteCount   int64     `json:"vote_count"`
}

type voteKey struct {
	member  MemberID
	dispute uint64
}

// State is the complete ledger state. It is not safe for concurrent use;
// callers serialize access (see internal/engine).
type State struct {
	members  map[MemberID]*Member
	services map[uint64]*ServiceRequest
	disputes map[uint64]*DisputeCase
	votes    map[voteKey]struct{}

	pool   int64
	escrow int64

	// nextService and nextDispute are the next ids to allocate.
	nextService uint64
	nextDispute uint64
}

// New returns an empty ledger.
func New() *State {
	return &State{
		members:     make(map[MemberID]*Member),
		services:    make(map[uint64]*ServiceRequest),
		disputes:    make(map[uint64]*DisputeCase),
		votes:       make(map[voteKey]struct{}),
		nextService: 1,
		nextDispute: 1,
	}
}

// touch records member activity. Callers must have checked registration.
func (s *State) touch(id MemberID, now time.Time) {
	if m, ok := s.members[id]; ok {
		m.LastActivity = now
	}
}

// CheckInvariants verifies the ledger invariants and returns the first
// violation found.
func (s *State) CheckInvariants() error {
	var total int64
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := s.members[MemberID(id)]
		if m.Balance < 0 {
			return fmt.Errorf("member %s: negative balance %d", id, m.Balance)
		}
		total += m.Balance
	}
	if s.pool < 0 {
		return fmt.Errorf("emergency pool: negative balance %d", s.pool)
	}

	var locked int64
	for id := uint64(1); id < s.nextService; id++ {
		r, ok := s.services[id]
		if !ok {
			return fmt.Errorf("service %d: missing from registry", id)
		}
		if r.Locked {
			locked += r.CreditsRequired
		}
		switch r.Status {
		case StatusAccepted, StatusInProgress, StatusCompleted:
			if !r.HasProvider() {
				return fmt.Errorf("service %d: status %s without provider", id, r.Status)
			}
		case StatusOpen, StatusCancelled:
			if r.HasProvider() {
				return fmt.Errorf("service %d: status %s with provider %s", id, r.Status, r.Provider)
			}
		}
		if r.Status == StatusCompleted && r.Locked {
			return fmt.Errorf("service %d: completed with credits still locked", id)
		}
	}
	if locked != s.escrow {
		return fmt.Errorf("escrow: tracked %d, locked in requests %d", s.escrow, locked)
	}

	minted := RegistrationGrant * int64(len(s.members))
	if sum := total + s.pool + s.escrow; sum != minted {
		return fmt.Errorf("conservation: balances %d + pool %d + escrow %d = %d, want %d",
			total, s.pool, s.escrow, sum, minted)
	}
	return nil
}
