package tracker

import "context"

// Request is the command object the Executor hands to a Transport.
type Request struct {
	// ID is the operation id of the record the call settles. The executor
	// sets it; callers of DispatchRequest leave it empty.
	ID string

	Method   Method
	Endpoint string
	Body     any

	// Credentials is filled from the executor's credentials accessor when
	// empty. Transports decide how to present it.
	Credentials string
}

// Response is what a Transport received.
// Status is zero when no response arrived.
type Response struct {
	Status int
	Body   []byte
}

// Transport performs the underlying remote call.
//
// Execute returns a non-nil error on network failure or when the status is
// outside 2xx; Response should still carry Status and Body when a response
// was received. Classifying the failure is the tracker's job (see Classify).
type Transport interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

// Execute calls f.
func (f TransportFunc) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
