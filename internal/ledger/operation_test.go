package ledger

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_Dispatch(t *testing.T) {
	s := New()
	at := t0

	ops := []Operation{
		{Kind: KindRegister, Caller: "alice", Skills: "carpentry", At: at},
		{Kind: KindRegister, Caller: "bob", Skills: "tutoring", At: at},
		{Kind: KindRequestService, Caller: "alice", Description: "shelf", Credits: 2, At: at},
		{Kind: KindAcceptService, Caller: "bob", ServiceID: 1, At: at},
		{Kind: KindRaiseDispute, Caller: "bob", ServiceID: 1, Reason: "scope", At: at},
		{Kind: KindVote, Caller: "alice", DisputeID: 1, At: at},
		{Kind: KindContribute, Caller: "bob", Credits: 1, At: at},
	}

	var outcomes []Outcome
	for _, op := range ops {
		out, err := s.Apply(op)
		require.NoError(t, err, "apply %s", op.Kind)
		outcomes = append(outcomes, out)
	}

	assert.Equal(t, uint64(1), outcomes[2].ServiceID)
	assert.Equal(t, uint64(1), outcomes[4].DisputeID)
	assert.Equal(t, EventDisputeVoteCast, outcomes[5].Events[0].Name)
	assert.Equal(t, int64(1), s.PoolBalance())
	requireInvariants(t, s)
}

func TestApply_GovernanceKindsNotSpecified(t *testing.T) {
	for _, kind := range []Kind{KindStartService, KindCancelService, KindResolveDispute} {
		t.Run(string(kind), func(t *testing.T) {
			s := newTestState(t, "alice")
			_, err := s.Apply(Operation{Kind: kind, Caller: "alice", ServiceID: 1})
			assert.ErrorIs(t, err, ErrNotSpecified)
		})
	}
}

func TestApply_UnknownKind(t *testing.T) {
	s := New()
	_, err := s.Apply(Operation{Kind: "mint", Caller: "alice"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("accept_service")
	require.NoError(t, err)
	assert.Equal(t, KindAcceptService, k)

	_, err = ParseKind("query")
	assert.Error(t, err)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := newTestState(t, "carol", "alice", "bob")
	svc := acceptedService(t, s)
	_, err := s.Contribute("carol", 2, t0)
	require.NoError(t, err)
	d, _, err := s.RaiseDispute("alice", svc, "reason", t0)
	require.NoError(t, err)
	_, err = s.Vote("carol", d, t0)
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, MemberID("alice"), snap.Members[0].ID, "members sorted by id")

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored, err := Restore(decoded)
	require.NoError(t, err)
	assert.Equal(t, snap, restored.Snapshot())
	assert.True(t, restored.HasVoted("carol", d))

	// Counters continue where they left off
	id, _, err := restored.RequestService("bob", "next", 1, false, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
}

func TestRestore_RejectsBrokenSnapshot(t *testing.T) {
	s := newTestState(t, "alice")
	snap := s.Snapshot()
	snap.Members[0].Balance = 9

	_, err := Restore(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conservation")
}

// TestApply_RandomSequencesKeepInvariants drives the ledger with seeded random
// operation streams and checks the invariants after every step, and that
// rejected operations leave the state byte-for-byte unchanged.
func TestApply_RandomSequencesKeepInvariants(t *testing.T) {
	members := []MemberID{"m0", "m1", "m2", "m3", "m4", "ghost"}

	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			s := New()
			at := t0

			for step := 0; step < 400; step++ {
				at = at.Add(time.Duration(rng.Intn(3600)) * time.Second)
				op := randomOperation(rng, members, s, at)

				before, err := json.Marshal(s.Snapshot())
				require.NoError(t, err)

				_, err = s.Apply(op)
				if err != nil {
					require.NotEmpty(t, CodeOf(err), "step %d: %v", step, err)
					after, mErr := json.Marshal(s.Snapshot())
					require.NoError(t, mErr)
					require.JSONEq(t, string(before), string(after), "step %d: rejected %s mutated state", step, op.Kind)
				}
				require.NoError(t, s.CheckInvariants(), "step %d after %+v", step, op)
			}
		})
	}
}

func randomOperation(rng *rand.Rand, members []MemberID, s *State, at time.Time) Operation {
	caller := members[rng.Intn(len(members))]
	pickService := func() uint64 { return uint64(rng.Intn(int(s.TotalServices()) + 2)) }
	pickDispute := func() uint64 { return uint64(rng.Intn(int(s.TotalDisputes()) + 2)) }

	op := Operation{Caller: caller, At: at}
	switch rng.Intn(9) {
	case 0:
		op.Kind = KindRegister
		op.Skills = []string{"", "cooking", "repairs"}[rng.Intn(3)]
	case 1, 2:
		op.Kind = KindRequestService
		op.Description = "task"
		op.Credits = int64(rng.Intn(8)) - 1
		op.Emergency = rng.Intn(3) == 0
	case 3, 4:
		op.Kind = KindAcceptService
		op.ServiceID = pickService()
	case 5:
		op.Kind = KindCompleteService
		op.ServiceID = pickService()
	case 6:
		op.Kind = KindContribute
		op.Credits = int64(rng.Intn(5)) - 1
	case 7:
		op.Kind = KindRaiseDispute
		op.ServiceID = pickService()
		op.Reason = "reason"
	default:
		op.Kind = KindVote
		op.DisputeID = pickDispute()
	}
	return op
}
