package tracker

import (
	"bytes"
	"maps"
)

// cloneResult deep-copies a decoded JSON value so readers never share the
// maps and slices held by the store. Scalars are immutable and returned as is.
func cloneResult(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = cloneResult(elem)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = cloneResult(elem)
		}
		return out
	case map[string]string:
		return maps.Clone(v)
	case []byte:
		return bytes.Clone(v)
	default:
		return v
	}
}

// cloneError copies the tracker's own error types. Wrapped causes are shared;
// they are not mutated after classification.
func cloneError(err error) error {
	switch e := err.(type) {
	case *HTTPError:
		c := *e
		c.Body = bytes.Clone(e.Body)
		return &c
	case *TransportError:
		c := *e
		return &c
	default:
		return err
	}
}
