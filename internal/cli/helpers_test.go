package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// execute runs cmd with args and returns what it wrote.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	if args == nil {
		args = []string{} // nil makes cobra fall back to os.Args
	}
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// decodeResponse decodes a CLIResponse whose data has type T.
func decodeResponse[T any](t *testing.T, raw string) (string, T) {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), raw)
	return resp.Status, resp.Data
}

// backend is an httptest server that counts calls and answers with a fixed
// status and body.
type backend struct {
	*httptest.Server

	calls    atomic.Int32
	lastAuth atomic.Value
	lastOpID atomic.Value
}

func newBackend(t *testing.T, status int, body string) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		b.lastAuth.Store(r.Header.Get("Authorization"))
		b.lastOpID.Store(r.Header.Get("X-Inflight-Operation"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) auth() string {
	s, _ := b.lastAuth.Load().(string)
	return s
}

func (b *backend) operationID() string {
	s, _ := b.lastOpID.Load().(string)
	return s
}
