package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/timebank/internal/engine"
	"github.com/roach88/timebank/internal/ledger"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation rejected, scenarios failed, non-deterministic replay
	ExitCommandError = 2 // Command error (bad input, database unavailable, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // ledger code or E_* command code
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Receipt outputs a sequenced operation. A rejected operation is reported
// as an error carrying its ledger code, with the receipt as details.
func (f *OutputFormatter) Receipt(r engine.Receipt, opErr error) error {
	if opErr != nil {
		code := string(ledger.CodeOf(opErr))
		if code == "" {
			code = "E_ENGINE"
		}
		if f.Format == "json" {
			return f.Error(code, opErr.Error(), r)
		}
		fmt.Fprintf(f.Writer, "#%d %s rejected [%s]: %v\n", r.Seq, r.Kind, code, opErr)
		return nil
	}

	if f.Format == "json" {
		return f.Success(r)
	}
	fmt.Fprintln(f.Writer, formatReceipt(r))
	return nil
}

// formatReceipt renders a receipt as one summary line plus one line per event.
func formatReceipt(r engine.Receipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s ok", r.Seq, r.Kind)
	if r.ServiceID != 0 {
		fmt.Fprintf(&b, " service=%d", r.ServiceID)
	}
	if r.DisputeID != 0 {
		fmt.Fprintf(&b, " dispute=%d", r.DisputeID)
	}
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "\n  %s", formatEvent(ev))
	}
	return b.String()
}

// formatEvent renders an event as Name{k=v ...} with sorted keys.
func formatEvent(ev ledger.Event) string {
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + ev.Fields[k]
	}
	return ev.Name + "{" + strings.Join(parts, " ") + "}"
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}
