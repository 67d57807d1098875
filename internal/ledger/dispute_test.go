package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptedService opens a 2-credit request by alice and has bob accept it.
func acceptedService(t *testing.T, s *State) uint64 {
	t.Helper()
	id, _, err := s.RequestService("alice", "paint fence", 2, false, t0)
	require.NoError(t, err)
	_, err = s.AcceptService("bob", id, t0)
	require.NoError(t, err)
	return id
}

func TestRaiseDispute(t *testing.T) {
	s := newTestState(t, "alice", "bob")
	svc := acceptedService(t, s)

	id, events, err := s.RaiseDispute("alice", svc, "never showed up", t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	d, err := s.Dispute(id)
	require.NoError(t, err)
	assert.Equal(t, svc, d.ServiceID)
	assert.Equal(t, MemberID("alice"), d.Complainant)
	assert.Equal(t, "never showed up", d.Reason)
	assert.False(t, d.Resolved)
	assert.Equal(t, int64(0), d.VoteCount)

	r, _ := s.Service(svc)
	assert.Equal(t, StatusDisputed, r.Status)
	assert.True(t, r.Locked, "escrow stays locked while disputed")
	assert.Equal(t, int64(2), s.Escrow())

	require.Len(t, events, 1)
	assert.Equal(t, EventDisputeRaised, events[0].Name)
	assert.Equal(t, "1", events[0].Field("dispute_id"))
	requireInvariants(t, s)
}

func TestRaiseDispute_OpenRequest(t *testing.T) {
	s := newTestState(t, "alice")
	svc, _, err := s.RequestService("alice", "task", 1, false, t0)
	require.NoError(t, err)

	_, _, err = s.RaiseDispute("alice", svc, "changed my mind", t0)
	require.NoError(t, err)
	r, _ := s.Service(svc)
	assert.Equal(t, StatusDisputed, r.Status)
	assert.False(t, r.HasProvider())
	requireInvariants(t, s)
}

func TestRaiseDispute_Rejections(t *testing.T) {
	t.Run("outsider", func(t *testing.T) {
		s := newTestState(t, "alice", "bob", "carol")
		svc := acceptedService(t, s)
		_, _, err := s.RaiseDispute("carol", svc, "reason", t0)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("completed", func(t *testing.T) {
		s := newTestState(t, "alice", "bob")
		svc := acceptedService(t, s)
		_, err := s.CompleteService("alice", svc, t0)
		require.NoError(t, err)
		_, _, err = s.RaiseDispute("alice", svc, "reason", t0)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("already disputed", func(t *testing.T) {
		s := newTestState(t, "alice", "bob")
		svc := acceptedService(t, s)
		_, _, err := s.RaiseDispute("alice", svc, "first", t0)
		require.NoError(t, err)
		_, _, err = s.RaiseDispute("bob", svc, "second", t0)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, uint64(1), s.TotalDisputes())
	})

	t.Run("missing service", func(t *testing.T) {
		s := newTestState(t, "alice")
		_, _, err := s.RaiseDispute("alice", 7, "reason", t0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty reason", func(t *testing.T) {
		s := newTestState(t, "alice", "bob")
		svc := acceptedService(t, s)
		_, _, err := s.RaiseDispute("alice", svc, "", t0)
		assert.ErrorIs(t, err, ErrInvalidInput)
		r, _ := s.Service(svc)
		assert.Equal(t, StatusAccepted, r.Status)
	})

	t.Run("unregistered", func(t *testing.T) {
		s := newTestState(t, "alice", "bob")
		svc := acceptedService(t, s)
		_, _, err := s.RaiseDispute("mallory", svc, "reason", t0)
		assert.ErrorIs(t, err, ErrNotRegistered)
	})
}

func TestDisputedServiceCannotComplete(t *testing.T) {
	s := newTestState(t, "alice", "bob")
	svc := acceptedService(t, s)
	_, _, err := s.RaiseDispute("bob", svc, "unpaid", t0)
	require.NoError(t, err)

	_, err = s.CompleteService("bob", svc, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestVote(t *testing.T) {
	s := newTestState(t, "alice", "bob", "carol", "dave")
	svc := acceptedService(t, s)
	id, _, err := s.RaiseDispute("alice", svc, "reason", t0)
	require.NoError(t, err)

	events, err := s.Vote("carol", id, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisputeVoteCast, events[0].Name)
	assert.Equal(t, "1", events[0].Field("vote_count"))

	_, err = s.Vote("dave", id, t0)
	require.NoError(t, err)

	d, _ := s.Dispute(id)
	assert.Equal(t, int64(2), d.VoteCount)
	assert.True(t, s.HasVoted("carol", id))
	assert.False(t, s.HasVoted("alice", id))
}

func TestVote_Twice(t *testing.T) {
	s := newTestState(t, "alice", "bob", "carol")
	svc := acceptedService(t, s)
	id, _, err := s.RaiseDispute("alice", svc, "reason", t0)
	require.NoError(t, err)

	_, err = s.Vote("carol", id, t0)
	require.NoError(t, err)
	_, err = s.Vote("carol", id, t0)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	d, _ := s.Dispute(id)
	assert.Equal(t, int64(1), d.VoteCount)
}

func TestVote_Rejections(t *testing.T) {
	s := newTestState(t, "alice", "bob")
	svc := acceptedService(t, s)
	id, _, err := s.RaiseDispute("alice", svc, "reason", t0)
	require.NoError(t, err)

	_, err = s.Vote("mallory", id, t0)
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = s.Vote("bob", 99, t0)
	assert.ErrorIs(t, err, ErrNotFound)

	s.disputes[id].Resolved = true
	_, err = s.Vote("bob", id, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}
