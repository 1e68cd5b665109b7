package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/internal/wellknown"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/google/uuid"
)

const (
	sessionIDHeader       = "X-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	maxBodyBytes = 1 << 20
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Option configures a Handler.
type Option func(*handlerConfig)

type handlerConfig struct {
	log      *slog.Logger
	resource *wellknown.ProtectedResourceMetadata
}

// WithLogger sets the logger used for HTTP-level events.
func WithLogger(l *slog.Logger) Option {
	return func(c *handlerConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithProtectedResource advertises issuer as the authorization server for
// resource under /.well-known/oauth-protected-resource, and points 401
// challenges at that document.
func WithProtectedResource(resource, issuer, name string) Option {
	return func(c *handlerConfig) {
		c.resource = &wellknown.ProtectedResourceMetadata{
			Resource:               resource,
			AuthorizationServers:   []string{issuer},
			BearerMethodsSupported: []string{"header"},
			ResourceName:           name,
		}
	}
}

// Handler serves the gateway over HTTP.
//
//	POST   /mcp/initialize
//	GET    /mcp/tools
//	POST   /mcp/tools/execute
//	DELETE /mcp/session
//	POST   /mcp              (JSON-RPC 2.0)
//	GET    /health
type Handler struct {
	d        *Dispatcher
	log      *slog.Logger
	mux      *http.ServeMux
	resource *wellknown.ProtectedResourceMetadata
}

// NewHandler builds the HTTP surface for d.
func NewHandler(d *Dispatcher, opts ...Option) *Handler {
	cfg := handlerConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Handler{d: d, log: cfg.log, mux: http.NewServeMux(), resource: cfg.resource}
	h.mux.HandleFunc("POST /mcp/initialize", h.handleInitialize)
	h.mux.HandleFunc("GET /mcp/tools", h.handleListTools)
	h.mux.HandleFunc("POST /mcp/tools/execute", h.handleExecute)
	h.mux.HandleFunc("DELETE /mcp/session", h.handleDeleteSession)
	h.mux.HandleFunc("POST /mcp", h.handleRPC)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	if h.resource != nil {
		h.mux.HandleFunc("GET "+wellknown.ProtectedResourcePath, h.handleProtectedResource)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})))
}

type executeRequest struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req InitializeRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	bearer, ok := bearerToken(r)
	if !ok {
		h.challenge(w, "invalid_request")
		writeJSONError(w, http.StatusUnauthorized, "malformed authorization header")
		h.log.WarnContext(ctx, "http.auth.malformed")
		return
	}

	res, err := h.d.Initialize(ctx, bearer, req)
	if err != nil {
		h.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	list, err := h.d.ListTools(r.Context(), r.Header.Get(sessionIDHeader))
	if err != nil {
		h.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": list})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	// Session is checked before the body so an unknown session is always 401.
	sessionID := r.Header.Get(sessionIDHeader)
	if _, err := h.d.Session(sessionID); err != nil {
		h.writeDispatchError(w, r, err)
		return
	}

	var req executeRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.ToolName == "" {
		writeJSONError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	res, err := h.d.ExecuteTool(r.Context(), sessionID, req.ToolName, req.Arguments)
	if err != nil {
		h.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.d.DeleteSession(r.Context(), r.Header.Get(sessionIDHeader)); err != nil {
		h.writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.resource)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Health())
}

// decodeBody enforces a JSON content type and decodes the request body into
// v. It writes the error response and returns false on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.content_type.unsupported")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "http.json.decode_fail", slog.String("err", err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		status, msg = http.StatusUnauthorized, "invalid or missing session ID"
	case errors.Is(err, ErrUnauthenticated):
		status = http.StatusUnauthorized
		h.challenge(w, "invalid_token")
	case errors.Is(err, ErrToolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	default:
		h.log.ErrorContext(r.Context(), "http.dispatch.fail", slog.String("err", err.Error()))
		msg = "internal error"
	}
	writeJSONError(w, status, msg)
}

// bearerToken extracts a bearer credential. A missing header is not an error;
// a header that is present but not a bearer credential is.
func bearerToken(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if v == "" {
		return "", true
	}
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// challenge sets a Bearer WWW-Authenticate header. The resource_metadata
// parameter is included when protected resource metadata is served.
func (h *Handler) challenge(w http.ResponseWriter, code string) {
	var params []string
	if h.resource != nil {
		params = append(params, fmt.Sprintf(`resource_metadata="%s"`, wellknown.MetadataURL(h.resource.Resource)))
	}
	params = append(params, fmt.Sprintf(`error="%s"`, code))
	w.Header().Set(wwwAuthenticateHeader, "Bearer "+strings.Join(params, ", "))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError emits {"error":{"code":<status>,"message":...}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
