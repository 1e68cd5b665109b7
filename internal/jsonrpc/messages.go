// Package jsonrpc implements the server side of JSON-RPC 2.0 framing: parsing
// single requests and building responses.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response represents a JSON-RPC response. ID is null when the request's ID
// could not be determined.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// ParseRequest decodes and validates a single request. Batches are not
// supported. The returned *Error is ready to be sent back to the caller.
func ParseRequest(data []byte) (*Request, *Error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, NewError(ErrorCodeInvalidRequest, "batch requests are not supported")
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		var idErr *InvalidIDError
		if errors.As(err, &idErr) {
			return nil, NewError(ErrorCodeInvalidRequest, idErr.Error())
		}
		return nil, NewError(ErrorCodeParseError, fmt.Sprintf("invalid JSON: %v", err))
	}
	if req.JSONRPCVersion != ProtocolVersion {
		return &req, NewError(ErrorCodeInvalidRequest,
			fmt.Sprintf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, req.JSONRPCVersion))
	}
	if req.Method == "" {
		return &req, NewError(ErrorCodeInvalidRequest, "method is required")
	}
	return &req, nil
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response.
func NewErrorResponse(id *RequestID, e *Error) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          e,
		ID:             id,
	}
}
