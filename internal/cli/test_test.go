package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signupScenario = `name: signup
description: one member registers
flow:
  - invoke: register
    caller: alice
    args: { skills: gardening }
    expect:
      case: ok
assertions:
  - type: final_state
    entity: member
    id: alice
    expect: { balance: 5, reputation: 100 }
`

const overdraftScenario = `name: overdraft
description: credits spent after a request are missing at acceptance
setup:
  - invoke: register
    caller: alice
    args: { skills: gardening }
  - invoke: register
    caller: bob
    args: { skills: plumbing }
flow:
  - invoke: request_service
    caller: alice
    args: { description: roof, credits: 4 }
  - invoke: contribute
    caller: alice
    args: { credits: 3 }
  - invoke: accept_service
    caller: bob
    args: { service_id: 1 }
    expect:
      case: InsufficientBalance
assertions:
  - type: trace_count
    invoke: accept_service
    case: InsufficientBalance
    count: 1
`

func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func testOpts(format string) *TestOptions {
	return &TestOptions{RootOptions: &RootOptions{Format: format}}
}

func TestRunTests_Pass(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"signup.yaml":    signupScenario,
		"overdraft.yaml": overdraftScenario,
		"README.md":      "not a scenario",
	})

	cmd, out, _ := testCommand("")
	require.NoError(t, runTests(testOpts("text"), dir, cmd))
	assert.Contains(t, out.String(), "✓ signup\n")
	assert.Contains(t, out.String(), "✓ overdraft\n")
	assert.Contains(t, out.String(), "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestRunTests_BundledScenarios(t *testing.T) {
	cmd, out, _ := testCommand("")
	require.NoError(t, runTests(testOpts("text"), "../harness/testdata/scenarios", cmd))
	assert.Contains(t, out.String(), "4 passed, 0 failed, 4 total")
}

func TestRunTests_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"signup.yaml":    signupScenario,
		"overdraft.yaml": overdraftScenario,
	})

	cmd, out, _ := testCommand("")
	opts := testOpts("json")
	opts.Filter = "sign*"
	require.NoError(t, runTests(opts, dir, cmd))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	var result TestResult
	dataAs(t, resp.Data, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "signup", result.Scenarios[0].Name)
	assert.Len(t, result.Scenarios[0].Digest, 64)

	opts.Filter = "["
	err := runTests(opts, dir, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunTests_GoldenUpdateAndCompare(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"signup.yaml": signupScenario})

	cmd, out, _ := testCommand("")
	opts := testOpts("text")
	opts.Update = true
	require.NoError(t, runTests(opts, dir, cmd))
	assert.Contains(t, out.String(), "✓ signup (golden updated)")

	goldenPath := filepath.Join(dir, "golden", "signup.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"signup","trace":[{"seq":1,"invoke":"register","caller":"alice","at":"2025-01-01T00:00:00Z","args":{"skills":"gardening"},"case":"ok","events":[{"name":"MemberRegistered","fields":{"member":"alice"}}]}]}`+"\n",
		string(golden))

	cmd, out, _ = testCommand("")
	require.NoError(t, runTests(testOpts("text"), dir, cmd))
	assert.Contains(t, out.String(), "✓ signup\n")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	cmd, out, _ = testCommand("")
	err = runTests(testOpts("json"), dir, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	var result TestResult
	dataAs(t, resp.Data, &result)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.Contains(t, result.Scenarios[0].Errors[0], "does not match golden file")
}

func TestRunTests_FailingScenario(t *testing.T) {
	broken := `name: broken
description: expects the wrong outcome
flow:
  - invoke: register
    caller: alice
    args: { skills: gardening }
    expect:
      case: AlreadyRegistered
assertions:
  - type: invariants
`
	dir := scenarioDir(t, map[string]string{
		"broken.yaml":  broken,
		"invalid.yaml": "name: invalid\n",
	})

	cmd, out, _ := testCommand("")
	err := runTests(testOpts("text"), dir, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out.String(), "✗ broken\n")
	assert.Contains(t, out.String(), "expected case AlreadyRegistered, got ok")
	assert.Contains(t, out.String(), "✗ invalid.yaml\n")
	assert.Contains(t, out.String(), "failed to load scenario")
	assert.Contains(t, out.String(), "0 passed, 2 failed, 2 total")
}

func TestRunTests_NoScenarios(t *testing.T) {
	cmd, out, _ := testCommand("")
	require.NoError(t, runTests(testOpts("text"), t.TempDir(), cmd))
	assert.Equal(t, "No scenarios found.\n", out.String())
}

func TestRunTests_MissingDirectory(t *testing.T) {
	cmd, _, _ := testCommand("")
	err := runTests(testOpts("text"), "/nonexistent/scenarios", cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("scenarios", "golden", "signup.golden"), goldenFilePath(filepath.Join("scenarios", "signup.yaml")))
}
