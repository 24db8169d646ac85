package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/inflight/internal/tracker"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A request failed, a scenario failed, a manifest is invalid
	ExitCommandError = 2 // Command error (bad flags, unreadable files, unreachable journal)
)

// Error codes reported in JSON output.
const (
	ErrCodeRequestFailed   = "E101" // the tracked request settled Failed
	ErrCodeDispatch        = "E102" // Dispatch rejected the request
	ErrCodeManifestInvalid = "E201" // manifest failed to load or validate
	ErrCodeJournal         = "E301" // journal could not be opened or read
	ErrCodeGeneric         = "E999"
)

// ExitError carries the process exit code out of a command.
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
	if err == nil {
		return ExitSuccess
	}
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
	ErrWriter io.Writer // diagnostic output; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope for every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON reports whether output is machine-readable.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success outputs a successful result in the configured format.
// In text mode data is printed with fmt.Println semantics.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
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

// Respond writes data wrapped in an envelope whose status is "error" when
// failed is true. Used by commands whose payload is meaningful either way.
func (f *OutputFormatter) Respond(data any, failed bool) error {
	status := "ok"
	if failed {
		status = "error"
	}
	return f.encode(CLIResponse{Status: status, Data: data})
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Goes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// WriteSnapshot renders a record in text mode as aligned key/value lines.
func (f *OutputFormatter) WriteSnapshot(snap tracker.Snapshot) {
	w := f.Writer
	fmt.Fprintf(w, "id:        %s\n", snap.ID)
	fmt.Fprintf(w, "request:   %s\n", snap.Signature())
	fmt.Fprintf(w, "state:     %s\n", snap.State)
	if snap.Status != 0 {
		fmt.Fprintf(w, "status:    %d\n", snap.Status)
	}
	if snap.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", snap.Error)
	}
	if !snap.SettledAt.IsZero() {
		fmt.Fprintf(w, "latency:   %s\n", snap.SettledAt.Sub(snap.CreatedAt).Round(time.Millisecond))
	}
	if snap.Result != nil {
		data, err := json.MarshalIndent(snap.Result, "           ", "  ")
		if err != nil {
			fmt.Fprintf(w, "result:    %v\n", snap.Result)
			return
		}
		fmt.Fprintf(w, "result:    %s\n", strings.TrimSpace(string(data)))
	}
}
