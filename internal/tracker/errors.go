package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when an operation id is not in the store.
// A settlement that hits ErrNotFound is a late completion and is dropped.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned by Dispatch after Close has been called.
var ErrClosed = errors.New("executor closed")

var errUnspecifiedFailure = errors.New("unspecified failure")

// ProgrammerError reports invalid use of the tracker itself, such as
// re-registering an id or settling a record twice. These are defects in the
// calling code. They are returned at the call site and never stored in a
// record.
type ProgrammerError struct {
	// Code identifies the misuse.
	Code ProgrammerErrorCode

	// Message is a human-readable description.
	Message string

	// ID is the affected operation id, when there is one.
	ID string
}

// ProgrammerErrorCode categorizes programmer errors.
type ProgrammerErrorCode string

const (
	// ErrCodeDuplicateID indicates a register with an id already in the store.
	ErrCodeDuplicateID ProgrammerErrorCode = "DUPLICATE_ID"

	// ErrCodeAlreadySettled indicates a second settlement of a terminal record.
	ErrCodeAlreadySettled ProgrammerErrorCode = "ALREADY_SETTLED"

	// ErrCodeNotPending indicates a register with a record that is not Pending.
	ErrCodeNotPending ProgrammerErrorCode = "NOT_PENDING"

	// ErrCodeInvalidOutcome indicates a settlement with a non-terminal state.
	ErrCodeInvalidOutcome ProgrammerErrorCode = "INVALID_OUTCOME"

	// ErrCodeInvalidMethod indicates a verb outside the supported set.
	ErrCodeInvalidMethod ProgrammerErrorCode = "INVALID_METHOD"

	// ErrCodeEmptyEndpoint indicates a dispatch without an endpoint.
	ErrCodeEmptyEndpoint ProgrammerErrorCode = "EMPTY_ENDPOINT"

	// ErrCodeInvalidTTL indicates a negative retention window.
	ErrCodeInvalidTTL ProgrammerErrorCode = "INVALID_TTL"

	// ErrCodeDuplicateArea indicates two executors registered under one name.
	ErrCodeDuplicateArea ProgrammerErrorCode = "DUPLICATE_AREA"
)

// Error implements the error interface.
func (e *ProgrammerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s (id=%s)", e.Code, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransportError means the call could not be completed: connectivity
// failures, or a response body that could not be decoded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError means a response arrived with a status outside 2xx.
// Code carries the application error code from the decoded body, if any.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Code)
	}
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, http.StatusText(e.Status))
}

// IsProgrammerError returns true if err is a ProgrammerError.
// Uses errors.As to handle wrapped errors.
func IsProgrammerError(err error) bool {
	var pe *ProgrammerError
	return errors.As(err, &pe)
}

// IsHTTPError returns true if err is an HTTPError.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// IsTransportError returns true if err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// errorBody is the application error envelope returned by the backend,
// e.g. {"error": "user-exists"}.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Classify turns a transport result into a terminal outcome.
//
// Classification:
//   - err == nil and 2xx status: body decoded as JSON into Result (Fulfilled)
//   - 2xx body that fails to decode: TransportError, status kept (Failed)
//   - non-2xx status, with or without err: HTTPError, code from the body (Failed)
//   - err with no status: TransportError (Failed)
//
// Errors that are already a TransportError or HTTPError pass through.
func Classify(resp Response, err error) Outcome {
	status := resp.Status

	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) {
			c := cloneError(he).(*HTTPError)
			if c.Status == 0 {
				c.Status = status
			}
			return Failed(c.Status, c)
		}
		if status != 0 && !successStatus(status) {
			return Failed(status, newHTTPError(status, resp.Body))
		}
		var te *TransportError
		if errors.As(err, &te) {
			return Failed(status, te)
		}
		return Failed(status, &TransportError{Op: "execute", Err: err})
	}

	if !successStatus(status) {
		return Failed(status, newHTTPError(status, resp.Body))
	}

	result, decodeErr := decodeResult(resp.Body)
	if decodeErr != nil {
		return Failed(status, &TransportError{Op: "decode", Err: decodeErr})
	}
	return Fulfilled(status, result)
}

func successStatus(status int) bool {
	return status >= 200 && status < 300
}

func newHTTPError(status int, body []byte) *HTTPError {
	he := &HTTPError{Status: status, Body: body}
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		he.Code = eb.Error
		if he.Code == "" {
			he.Code = eb.Code
		}
		he.Message = eb.Message
	}
	return he
}

// decodeResult decodes a JSON body. An empty body decodes to nil.
func decodeResult(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// describeError renders the error field of a record. An HTTPError with an
// application code is described by the code alone.
func describeError(err error) string {
	if err == nil {
		return ""
	}
	var he *HTTPError
	if errors.As(err, &he) && he.Code != "" {
		return he.Code
	}
	return err.Error()
}
