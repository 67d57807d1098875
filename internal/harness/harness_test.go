package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebank/internal/ledger"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"basic_exchange", "emergency_pool", "dispute_vote", "token_expiry"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.Len(t, result.Digest, 64)
		})
	}
}

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"basic_exchange", "emergency_pool"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	scenario := loadTestScenario(t, "dispute_vote")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Digest, second.Digest)
}

func TestRun_TraceCarriesSeqAndTime(t *testing.T) {
	result, err := Run(loadTestScenario(t, "token_expiry"))
	require.NoError(t, err)

	require.Len(t, result.Trace, 3)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, "2025-03-01T09:00:00Z", result.Trace[0].At.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "2026-03-01T10:02:00Z", result.Trace[2].At.Format("2006-01-02T15:04:05Z07:00"))
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected",
		Description: "expects success where the ledger rejects",
		Setup: []FlowStep{
			{Invoke: "register", Caller: "alice", Args: StepArgs{Skills: "gardening"}},
		},
		Flow: []FlowStep{
			{Invoke: "contribute", Caller: "alice", Args: StepArgs{Credits: 10}},
			{Invoke: "request_service", Caller: "alice", Args: StepArgs{Description: "x", Credits: 1},
				Expect: &ExpectClause{Case: CaseOK, ServiceID: 2}},
		},
		Assertions: []Assertion{{Type: AssertInvariants}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected case ok, got InsufficientBalance")
	assert.Contains(t, result.Errors[1], "expected service_id 2, got 1")

	require.Len(t, result.Trace, 3)
	assert.Equal(t, string(ledger.CodeInsufficientBalance), result.Trace[1].Case)
	assert.Empty(t, result.Trace[1].Events)
}

func TestRun_SetupMustSucceed(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_setup",
		Description: "setup registers the same member twice",
		Setup: []FlowStep{
			{Invoke: "register", Caller: "alice", Args: StepArgs{Skills: "a"}},
			{Invoke: "register", Caller: "alice", Args: StepArgs{Skills: "b"}},
		},
		Flow:       []FlowStep{{Invoke: "contribute", Caller: "alice", Args: StepArgs{Credits: 1}}},
		Assertions: []Assertion{{Type: AssertInvariants}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAlreadyRegistered)
	assert.Contains(t, err.Error(), "setup step 1")
}

func TestRun_FixedCorrelation(t *testing.T) {
	scenario := loadTestScenario(t, "basic_exchange")
	withToken := *scenario
	withToken.Correlation = "shared-token"

	a, err := Run(scenario)
	require.NoError(t, err)
	b, err := Run(&withToken)
	require.NoError(t, err)

	// Correlation tokens feed operation ids, not state
	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, a.Trace, b.Trace)
}

func TestMarshalTrace(t *testing.T) {
	result := NewResult()
	data, err := MarshalTrace("empty", result)
	require.NoError(t, err)
	assert.Equal(t, "{\"scenario_name\":\"empty\",\"trace\":[]}\n", string(data))
}
