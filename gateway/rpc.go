package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-gateway-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/sessions"
)

const (
	methodInitialize = "initialize"
	methodToolsList  = "tools/list"
	methodToolsCall  = "tools/call"
)

type rpcSessionParams struct {
	SessionID string `json:"session_id,omitempty"`
}

type rpcCallParams struct {
	SessionID string          `json:"session_id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// handleRPC serves the JSON-RPC 2.0 endpoint. The session may be carried in
// the X-Session-Id header or as params.session_id.
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	req, rpcErr := jsonrpc.ParseRequest(body)
	if rpcErr != nil {
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", rpcErr.Message))
		var id *jsonrpc.RequestID
		if req != nil {
			id = req.ID
		}
		writeJSON(w, http.StatusOK, jsonrpc.NewErrorResponse(id, rpcErr))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})

	result, rpcErr := h.dispatchRPC(ctx, r, req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, jsonrpc.NewErrorResponse(req.ID, rpcErr))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "jsonrpc.result.encode_fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "failed to encode result")))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) dispatchRPC(ctx context.Context, r *http.Request, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	switch req.Method {
	case methodInitialize:
		var p InitializeRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		bearer, ok := bearerToken(r)
		if !ok {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeUnauthorized, "malformed authorization header")
		}
		res, err := h.d.Initialize(ctx, bearer, p)
		if err != nil {
			return nil, rpcError(err)
		}
		return res, nil

	case methodToolsList:
		var p rpcSessionParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		list, err := h.d.ListTools(ctx, sessionFrom(r, p.SessionID))
		if err != nil {
			return nil, rpcError(err)
		}
		return map[string]any{"tools": list}, nil

	case methodToolsCall:
		var p rpcCallParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "name is required")
		}
		res, err := h.d.ExecuteTool(ctx, sessionFrom(r, p.SessionID), p.Name, p.Arguments)
		if err != nil {
			return nil, rpcError(err)
		}
		return res, nil
	}
	return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method)
}

func decodeParams(raw json.RawMessage, v any) *jsonrpc.Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

func sessionFrom(r *http.Request, param string) string {
	if id := r.Header.Get(sessionIDHeader); id != "" {
		return id
	}
	return param
}

func rpcError(err error) *jsonrpc.Error {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return jsonrpc.NewError(jsonrpc.ErrorCodeUnauthorized, "invalid or missing session ID")
	case errors.Is(err, ErrUnauthenticated):
		return jsonrpc.NewError(jsonrpc.ErrorCodeUnauthorized, err.Error())
	case errors.Is(err, ErrToolNotFound):
		return jsonrpc.NewError(jsonrpc.ErrorCodeToolNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return jsonrpc.NewError(jsonrpc.ErrorCodeForbidden, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error())
	}
	return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "internal error")
}
