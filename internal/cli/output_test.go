package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/tracker"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"id": "op-1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"id": "op-1"}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := []string{"area \"papers\": name: duplicate area"}
	require.NoError(t, formatter.Error(ErrCodeManifestInvalid, "manifest invalid", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeManifestInvalid, resp.Error.Code)
	assert.Equal(t, "manifest invalid", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_Respond(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Respond(map[string]int{"failed": 1}, true))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error(ErrCodeRequestFailed, "request failed", "http 409: user-exists"))
			assert.Contains(t, buf.String(), "Error [E101]: request failed")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: http 409: user-exists")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("dispatching %d requests", 3)

	assert.Empty(t, out.String())
	assert.Equal(t, "dispatching 3 requests\n", errOut.String())
}

func TestOutputFormatter_VerboseLogDisabled(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	formatter.VerboseLog("dispatching %d requests", 3)
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_WriteSnapshot(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	formatter.WriteSnapshot(tracker.Snapshot{
		ID:        "op-1",
		Method:    tracker.MethodGet,
		Endpoint:  "/papers",
		State:     tracker.StateFulfilled,
		Status:    200,
		Result:    map[string]any{"count": 3},
		CreatedAt: created,
		SettledAt: created.Add(250 * time.Millisecond),
	})

	out := buf.String()
	assert.Contains(t, out, "id:        op-1\n")
	assert.Contains(t, out, "request:   GET /papers\n")
	assert.Contains(t, out, "state:     fulfilled\n")
	assert.Contains(t, out, "status:    200\n")
	assert.Contains(t, out, "latency:   250ms\n")
	assert.Contains(t, out, `"count": 3`)
	assert.NotContains(t, out, "error:")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open journal", errors.New("disk")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "outer: open journal: disk", wrapped.Error())
}
