package protocol

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// DecodeJSON decodes a single JSON value from r, rejecting trailing input.
func DecodeJSON[T any](r io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return v, fmt.Errorf("decode json: unexpected trailing data")
	}
	return v, nil
}

// EncodeJSON marshals v with the wire codec.
func EncodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

// DecodeErrorBody turns a non-2xx response body into a *Error. Bodies
// that are not an error envelope become a fallback error of the given
// kind carrying the raw text.
func DecodeErrorBody(status int, body []byte, fallback Kind) *Error {
	var env ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Kind != "" {
		return env.Error
	}
	return &Error{Kind: fallback, Message: fmt.Sprintf("HTTP %d: %s", status, string(body))}
}
