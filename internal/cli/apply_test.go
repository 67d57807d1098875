package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpFile(t *testing.T) {
	ops, err := ParseOpFile([]byte(exchangeOps))
	require.NoError(t, err)
	require.Len(t, ops, 5)

	assert.EqualValues(t, "request_service", ops[2].Kind)
	assert.Equal(t, "fix sink", ops[2].Description)
	assert.Equal(t, int64(3), ops[2].Credits)
	assert.Equal(t, "sink", ops[2].Correlation)
	assert.Equal(t, uint64(1), ops[3].ServiceID)
}

func TestParseOpFile_JSON(t *testing.T) {
	ops, err := ParseOpFile([]byte(`{"operations":[{"kind":"contribute","caller":"bob","credits":2}]}`))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(2), ops[0].Credits)
}

func TestParseOpFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "", "operations file is empty"},
		{"no operations", "operations: []\n", "at least one operation"},
		{"missing kind", "operations:\n  - caller: alice\n", "operations[0]: kind is required"},
		{"unknown kind", "operations:\n  - {kind: teleport, caller: alice}\n", `operations[0]: unknown operation kind "teleport"`},
		{"missing caller", "operations:\n  - {kind: register, skills: x}\n", "operations[0]: caller is required"},
		{"unknown field", "operations:\n  - {kind: register, caller: alice, colour: red}\n", "colour"},
		{"unknown top-level", "ops: []\n", "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOpFile([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApply_Text(t *testing.T) {
	db := testDB(t)
	cmd, out, errOut := testCommand("")
	opts := &ApplyOptions{RootOptions: &RootOptions{Format: "text"}, Database: db, TimeSource: testClock()}

	require.NoError(t, applyFile(opts, writeFile(t, "ops.yaml", exchangeOps), cmd), errOut.String())
	assert.Contains(t, out.String(), "#1 register ok\n  MemberRegistered{member=alice}\n")
	assert.Contains(t, out.String(), "#3 request_service ok service=1\n")
	assert.Contains(t, out.String(), "  TokensTransferred{amount=3 from=alice to=bob}\n")
	assert.Contains(t, errOut.String(), "batch applied")
}

func TestApply_JSONWithRejection(t *testing.T) {
	db := testDB(t)
	seed(t, db, exchangeOps)

	ops := `operations:
  - {kind: register, caller: alice, skills: again}
  - {kind: contribute, caller: bob, credits: 2}
`
	cmd, out, _ := testCommand("")
	opts := &ApplyOptions{RootOptions: &RootOptions{Format: "json"}, Database: db, TimeSource: testClock()}

	err := applyFile(opts, writeFile(t, "ops.yaml", ops), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	responses := decodeResponses(t, out.String())
	require.Len(t, responses, 1)
	assert.Equal(t, "error", responses[0].Status)
	assert.Equal(t, "E_REJECTED", responses[0].Error.Code)

	var summary ApplySummary
	dataAs(t, responses[0].Data, &summary)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, int64(7), summary.LastSeq)
	require.Len(t, summary.Receipts, 2)
	assert.EqualValues(t, "AlreadyRegistered", summary.Receipts[0].ErrorCode)
}

func TestApply_StopOnReject(t *testing.T) {
	db := testDB(t)
	ops := `operations:
  - {kind: request_service, caller: nobody, description: x, credits: 1}
  - {kind: register, caller: alice, skills: gardening}
`
	cmd, out, _ := testCommand("")
	opts := &ApplyOptions{RootOptions: &RootOptions{Format: "text"}, Database: db, StopOnReject: true, TimeSource: testClock()}

	err := applyFile(opts, writeFile(t, "ops.yaml", ops), cmd)
	require.Error(t, err)
	assert.Contains(t, out.String(), "#1 request_service rejected [NotRegistered]")
	assert.NotContains(t, out.String(), "register ok")
}

func TestApply_Stdin(t *testing.T) {
	db := testDB(t)
	cmd, out, errOut := testCommand("operations:\n  - {kind: register, caller: carol, skills: baking}\n")
	opts := &ApplyOptions{RootOptions: &RootOptions{Format: "text"}, Database: db, TimeSource: testClock()}

	require.NoError(t, applyFile(opts, "-", cmd), errOut.String())
	assert.Contains(t, out.String(), "#1 register ok")
}

func TestApply_MissingFile(t *testing.T) {
	isolateHome(t)
	cmd, _, _ := testCommand("")
	err := applyFile(&ApplyOptions{RootOptions: &RootOptions{Format: "text"}}, "/nonexistent/ops.yaml", cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
