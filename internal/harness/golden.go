package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/timebank/internal/digest"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// It is serialized as canonical JSON for byte-exact comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalTrace returns the canonical JSON golden form of a result's trace,
// followed by a newline.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	data, err := digest.Canonical(TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check assertion errors too.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
