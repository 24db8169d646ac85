package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/inflight/internal/tracker"
)

func newTracedTransport(t *testing.T, baseURL string, opts ...Option) (*HTTP, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	base := []Option{
		WithTracerProvider(tp),
		WithPropagator(propagation.TraceContext{}),
	}
	return NewHTTP(baseURL, append(base, opts...)...), recorder
}

func TestHTTP_Success(t *testing.T) {
	type captured struct {
		method, path, query, auth, traceparent, custom, contentType, operation string
		body                                                                   map[string]any
	}
	requests := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got captured
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		got.traceparent = r.Header.Get("Traceparent")
		got.custom = r.Header.Get("X-Client")
		got.operation = r.Header.Get(OperationHeader)
		got.contentType = r.Header.Get("Content-Type")
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &got.body)
			}
		}
		requests <- got
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	h, recorder := newTracedTransport(t, srv.URL+"/", WithHeader("X-Client", "inflight"))

	resp, err := h.Execute(context.Background(), tracker.Request{
		ID:          "op-1",
		Method:      tracker.MethodPost,
		Endpoint:    "/papers?draft=true",
		Body:        map[string]string{"title": "On Trackers"},
		Credentials: "token-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"id":7}`, string(resp.Body))

	got := <-requests

	assert.Equal(t, "POST", got.method)
	assert.Equal(t, "/papers", got.path)
	assert.Equal(t, "draft=true", got.query)
	assert.Equal(t, "Bearer token-abc", got.auth)
	assert.Equal(t, "inflight", got.custom)
	assert.Equal(t, "op-1", got.operation)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, map[string]any{"title": "On Trackers"}, got.body)
	assert.NotEmpty(t, got.traceparent, "trace context is propagated")

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "inflight POST", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestHTTP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"user-exists"}`))
	}))
	defer srv.Close()

	h, recorder := newTracedTransport(t, srv.URL)

	resp, err := h.Execute(context.Background(), tracker.Request{Method: tracker.MethodPost, Endpoint: "/users"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)

	outcome := tracker.Classify(resp, err)
	assert.Equal(t, tracker.StateFailed, outcome.State)
	assert.Equal(t, http.StatusConflict, outcome.Status)
	var he *tracker.HTTPError
	require.True(t, errors.As(outcome.Err, &he))
	assert.Equal(t, "user-exists", he.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestHTTP_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h, recorder := newTracedTransport(t, url)

	resp, err := h.Execute(context.Background(), tracker.Request{Method: tracker.MethodGet, Endpoint: "/papers"})
	require.Error(t, err)
	assert.Zero(t, resp.Status)
	assert.True(t, tracker.IsTransportError(err))

	outcome := tracker.Classify(resp, err)
	assert.Equal(t, tracker.StateFailed, outcome.State)
	assert.Zero(t, outcome.Status)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events(), "error is recorded on the span")
}

func TestHTTP_UnencodableBody(t *testing.T) {
	h, _ := newTracedTransport(t, "http://127.0.0.1:0")

	_, err := h.Execute(context.Background(), tracker.Request{
		Method:   tracker.MethodPost,
		Endpoint: "/papers",
		Body:     map[string]any{"bad": make(chan int)},
	})
	var te *tracker.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "request", te.Op)
}

func TestHTTP_WithExecutor(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	h, _ := newTracedTransport(t, srv.URL)
	exec := tracker.New("papers", h)

	id, err := exec.Dispatch(tracker.MethodGet, "/papers", nil)
	require.NoError(t, err)
	require.NoError(t, exec.Close(context.Background()))

	snap, ok := exec.Get(id)
	require.True(t, ok)
	assert.Equal(t, tracker.StateFulfilled, snap.State)
	assert.Equal(t, []any{map[string]any{"id": float64(1)}}, snap.Result)
	assert.Equal(t, int32(1), calls.Load())
}
