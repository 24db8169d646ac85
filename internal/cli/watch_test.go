package cli

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/tracker"
)

func TestWatch_RetentionAnswersLaterRounds(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{"count":3}`)

	cmd := NewWatchCommand(&RootOptions{Format: "json"})
	out, _, err := execute(t, cmd, "/papers/count",
		"--base-url", b.URL,
		"--rounds", "3",
		"--interval", "5ms",
		"--retain", "1m",
	)
	require.NoError(t, err)

	status, res := decodeResponse[WatchResult](t, out)
	assert.Equal(t, "ok", status)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 3, res.Dispatches)
	assert.EqualValues(t, 1, res.Calls)
	assert.EqualValues(t, 1, b.calls.Load())
	assert.Zero(t, res.Failed)

	require.Len(t, res.Records, 3)
	assert.False(t, res.Records[0].Reused)
	assert.True(t, res.Records[1].Reused)
	assert.True(t, res.Records[2].Reused)
	assert.Equal(t, res.Records[0].ID, res.Records[2].ID)
}

func TestWatch_FinalSweepReclaimsExpiredRecords(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{"count":3}`)

	cmd := NewWatchCommand(&RootOptions{Format: "json"})
	out, _, err := execute(t, cmd, "/papers/count",
		"--base-url", b.URL,
		"--rounds", "1",
		"--retain", "1ns",
		"--sweep-interval", "1h",
	)
	require.NoError(t, err)

	_, res := decodeResponse[WatchResult](t, out)
	assert.Equal(t, 1, res.Dispatches)
	assert.Equal(t, 1, res.Swept, "the retained record expired before shutdown")
}

func TestWatch_WithoutRetentionCallsEveryRound(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{"count":3}`)

	cmd := NewWatchCommand(&RootOptions{Format: "json"})
	out, _, err := execute(t, cmd, "/papers/count", "/users/me",
		"--base-url", b.URL,
		"--rounds", "2",
		"--interval", "5ms",
	)
	require.NoError(t, err)

	_, res := decodeResponse[WatchResult](t, out)
	assert.Equal(t, 4, res.Dispatches)
	assert.EqualValues(t, 4, res.Calls)

	ids := make(map[string]bool)
	for _, rec := range res.Records {
		assert.False(t, rec.Reused)
		ids[rec.ID] = true
	}
	assert.Len(t, ids, 4, "each round issues fresh operations")
}

func TestWatch_TextOutputReportsFailures(t *testing.T) {
	b := newBackend(t, http.StatusNotFound, `{"error":"no-such-paper"}`)

	cmd := NewWatchCommand(&RootOptions{Format: "text"})
	out, _, err := execute(t, cmd, "/papers/42",
		"--base-url", b.URL,
		"--rounds", "1",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "round 1  GET /papers/42  failed 404 no-such-paper  (backend, id=")
	assert.Contains(t, out, "1 rounds, 1 dispatches, 1 backend calls, 1 failed, 0 swept")
}

func TestWatch_DuplicateEndpointsInOneRound(t *testing.T) {
	b := newBackend(t, http.StatusOK, `{}`)

	cmd := NewWatchCommand(&RootOptions{Format: "json"})
	out, _, err := execute(t, cmd, "/papers", "/papers",
		"--base-url", b.URL,
		"--rounds", "1",
	)
	require.NoError(t, err)

	_, res := decodeResponse[WatchResult](t, out)
	assert.EqualValues(t, 1, res.Calls)
	require.Len(t, res.Records, 1, "the shared record is reported once")
	assert.Equal(t, tracker.StateFulfilled, res.Records[0].State)
}

func TestWatch_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no_endpoints", []string{"--base-url", "http://x"}, "requires at least 1 arg"},
		{"bad_interval", []string{"/papers", "--base-url", "http://x", "--interval", "0s"}, "--interval must be positive"},
		{"negative_rounds", []string{"/papers", "--base-url", "http://x", "--rounds", "-1"}, "--rounds must not be negative"},
		{"bad_method", []string{"/papers", "--base-url", "http://x", "-X", "HEAD"}, "invalid --method"},
		{"bad_metrics_addr", []string{"/papers", "--base-url", "http://x", "--metrics-addr", "not-an-addr"}, "listen for metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewWatchCommand(&RootOptions{Format: "text"})
			_, _, err := execute(t, cmd, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			if tt.name != "no_endpoints" {
				assert.Equal(t, ExitCommandError, GetExitCode(err))
			}
		})
	}
}
