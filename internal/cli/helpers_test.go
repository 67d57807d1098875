package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebank/internal/testutil"
)

// exchangeOps registers two members and runs one paid exchange.
const exchangeOps = `operations:
  - {kind: register, caller: alice, skills: gardening, correlation: onboarding}
  - {kind: register, caller: bob, skills: plumbing, correlation: onboarding}
  - {kind: request_service, caller: alice, description: fix sink, credits: 3, correlation: sink}
  - {kind: accept_service, caller: bob, service_id: 1, correlation: sink}
  - {kind: complete_service, caller: alice, service_id: 1, correlation: sink}
`

// isolateHome keeps the user's config file out of tests.
func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

// testDB returns a fresh database path with HOME isolated.
func testDB(t *testing.T) string {
	t.Helper()
	isolateHome(t)
	return filepath.Join(t.TempDir(), "timebank.db")
}

func testCommand(stdin string) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	return cmd, out, errOut
}

func testClock() *testutil.SteppingTime {
	return testutil.NewSteppingTime(testutil.DefaultStart, time.Minute)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// seed applies a YAML operations file to db. Every operation must succeed.
func seed(t *testing.T, db, ops string) {
	t.Helper()
	cmd, _, errOut := testCommand("")
	opts := &ApplyOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    db,
		TimeSource:  testClock(),
	}
	err := applyFile(opts, writeFile(t, "seed.yaml", ops), cmd)
	require.NoError(t, err, errOut.String())
}

// decodeResponses parses one CLIResponse per line.
func decodeResponses(t *testing.T, out string) []CLIResponse {
	t.Helper()
	var responses []CLIResponse
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var resp CLIResponse
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	return responses
}

// dataAs re-decodes a response payload into v.
func dataAs(t *testing.T, data any, v any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}
