package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestID is a request identifier, either a string or a number. It keeps
// the caller's encoding so responses echo it byte for byte.
type RequestID struct {
	raw json.RawMessage
}

// InvalidIDError reports an id that is neither a string nor a number.
type InvalidIDError struct {
	Raw string
}

func (e *InvalidIDError) Error() string {
	return "JSON-RPC ID must be a string or number, got: " + e.Raw
}

// NewRequestID creates an ID from a string or integer.
func NewRequestID[T string | int | int64](v T) *RequestID {
	b, _ := json.Marshal(v)
	return &RequestID{raw: b}
}

// String returns the ID's textual form, without quotes for string IDs.
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(id.raw, &s); err == nil {
		return s
	}
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &InvalidIDError{Raw: ""}
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
	default:
		return &InvalidIDError{Raw: string(data)}
	}
	id.raw = append(json.RawMessage(nil), data...)
	return nil
}
