package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/timebank/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Digest string   `json:"digest,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files against an in-memory ledger",
		Long: `Run conformance scenarios using the harness framework.

Each scenario runs against a fresh in-memory ledger with a deterministic
clock. Steps are checked against their expected outcomes, assertions are
evaluated on the final state, and when <scenarios-dir>/golden/<name>.golden
exists the trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  timebank test ./scenarios
  timebank test ./scenarios --filter "dispute*"
  timebank test ./scenarios --update
  timebank test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	ctx := commandContext(cmd)

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	for _, scenarioFile := range scenarioFiles {
		scenResult := runScenario(ctx, scenarioFile, opts)
		if opts.Format != "json" {
			printScenarioResult(cmd.OutOrStdout(), scenResult, opts.Update)
		}

		result.Scenarios = append(result.Scenarios, scenResult)
		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles finds all YAML scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			if matched, _ := filepath.Match(filter, name); !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario file and checks its golden trace.
func runScenario(ctx context.Context, scenarioFile string, opts *TestOptions) ScenarioResult {
	fail := func(name string, errs ...string) ScenarioResult {
		return ScenarioResult{Name: name, Pass: false, Errors: errs}
	}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return fail(filepath.Base(scenarioFile), fmt.Sprintf("failed to load scenario: %v", err))
	}

	result, err := harness.RunContext(ctx, scenario)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	trace, err := harness.MarshalTrace(scenario.Name, result)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("failed to marshal trace: %v", err))
	}

	goldenPath := goldenFilePath(scenarioFile)
	if opts.Update {
		if err := writeGoldenFile(goldenPath, trace); err != nil {
			return fail(scenario.Name, fmt.Sprintf("failed to update golden file: %v", err))
		}
	} else {
		golden, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
			// No golden file: assertions only.
		case err != nil:
			return fail(scenario.Name, fmt.Sprintf("failed to read golden file: %v", err))
		case !bytes.Equal(golden, trace):
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	}

	return ScenarioResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Digest: result.Digest,
		Errors: result.Errors,
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// writeGoldenFile writes the current trace as the golden file.
func writeGoldenFile(goldenPath string, trace []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, trace, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func printScenarioResult(w io.Writer, r ScenarioResult, updated bool) {
	if r.Pass {
		if updated {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", r.Name)
		} else {
			fmt.Fprintf(w, "✓ %s\n", r.Name)
		}
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Name)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
