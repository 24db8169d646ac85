package tracker

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Signature is the (method, endpoint) pair used as the dedup and cache key.
type Signature struct {
	Method   Method
	Endpoint string
}

// NewSignature validates and normalizes a signature.
// The verb is upper-cased and the endpoint is NFC-normalized so that
// canonically equal endpoints share one index slot.
func NewSignature(verb string, endpoint string) (Signature, error) {
	method, err := ParseMethod(verb)
	if err != nil {
		return Signature{}, err
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Signature{}, &ProgrammerError{
			Code:    ErrCodeEmptyEndpoint,
			Message: fmt.Sprintf("%s dispatch without endpoint", method),
		}
	}
	return Signature{Method: method, Endpoint: norm.NFC.String(endpoint)}, nil
}

// String renders the signature as "METHOD endpoint".
func (s Signature) String() string {
	return string(s.Method) + " " + s.Endpoint
}
