// Package transport provides the HTTP implementation of tracker.Transport.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/inflight/internal/tracker"
)

const tracerName = "inflight.transport"

// OperationHeader carries the tracker operation id to the backend.
const OperationHeader = "X-Inflight-Operation"

// DefaultTimeout bounds one HTTP exchange when no client is supplied.
const DefaultTimeout = 30 * time.Second

// HTTP performs tracker requests against a JSON HTTP backend.
//
// Each call becomes one client span. Non-2xx responses are returned together
// with an error so tracker.Classify records them as HTTP errors; the response
// body is always read in full.
type HTTP struct {
	baseURL    string
	client     *http.Client
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	headers    http.Header
}

var _ tracker.Transport = (*HTTP)(nil)

// Option configures an HTTP transport.
type Option func(*HTTP)

// WithClient sets the HTTP client. Default: a client with DefaultTimeout.
func WithClient(c *http.Client) Option {
	return func(h *HTTP) {
		h.client = c
	}
}

// WithTracerProvider sets the span source. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *HTTP) {
		h.tracer = tp.Tracer(tracerName)
	}
}

// WithPropagator sets the trace-context propagator. Default: the global one.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(h *HTTP) {
		h.propagator = p
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(h *HTTP) {
		h.headers.Add(key, value)
	}
}

// NewHTTP creates a transport rooted at baseURL. Endpoints are appended to it
// verbatim, so "/papers?limit=5" keeps its query.
func NewHTTP(baseURL string, opts ...Option) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	if h.propagator == nil {
		h.propagator = otel.GetTextMapPropagator()
	}
	return h
}

// BaseURL returns the backend root.
func (h *HTTP) BaseURL() string {
	return h.baseURL
}

// Execute performs one HTTP exchange.
func (h *HTTP) Execute(ctx context.Context, req tracker.Request) (tracker.Response, error) {
	ctx, span := h.tracer.Start(ctx, "inflight "+string(req.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", string(req.Method)),
			attribute.String("inflight.endpoint", req.Endpoint),
			attribute.String("inflight.operation_id", req.ID),
		),
	)
	defer span.End()

	httpReq, err := h.newRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return tracker.Response{}, &tracker.TransportError{Op: "request", Err: err}
	}
	span.SetAttributes(attribute.String("url.full", httpReq.URL.String()))

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		return tracker.Response{}, &tracker.TransportError{Op: "send", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return tracker.Response{Status: httpResp.StatusCode}, &tracker.TransportError{Op: "read", Err: err}
	}

	resp := tracker.Response{Status: httpResp.StatusCode, Body: body}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))

	if resp.Status < 200 || resp.Status >= 300 {
		span.SetStatus(codes.Error, http.StatusText(resp.Status))
		return resp, fmt.Errorf("%s %s: unexpected status %d", req.Method, req.Endpoint, resp.Status)
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (h *HTTP) newRequest(ctx context.Context, req tracker.Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), h.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, err
	}

	for key, values := range h.headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.ID != "" {
		httpReq.Header.Set(OperationHeader, req.ID)
	}
	if req.Credentials != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credentials)
	}

	h.propagator.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	return httpReq, nil
}
