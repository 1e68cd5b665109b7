// Package gateway is the request-handling core of the tool gateway. The
// Dispatcher sequences session lookup, admission, argument validation and
// invocation, and Handler exposes it over HTTP as REST routes and a JSON-RPC
// endpoint.
//
// Two kinds of failure are kept apart. Protocol rejections (no session,
// unknown tool, forbidden) are returned as errors. Anything that goes wrong
// once a call is admitted, including bad arguments, comes back as an
// ExecuteResult with IsError set so the caller can correct and retry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/ggoodman/mcp-gateway-go/registry"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/tools"
)

var (
	ErrUnauthenticated = errors.New("invalid access token")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrToolNotFound    = errors.New("tool not found")
	ErrForbidden       = errors.New("insufficient permissions")
)

// Authenticator resolves a bearer credential to a principal. *auth.Provider
// satisfies it.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (string, bool)
}

// Config wires a Dispatcher.
type Config struct {
	Registry *registry.Registry
	Sessions *sessions.Store
	// Auth validates bearer credentials. When nil, any credential presented
	// at initialization is rejected and only anonymous sessions can be
	// created.
	Auth          Authenticator
	ServerName    string
	ServerVersion string
	Logger        *slog.Logger
}

// Dispatcher implements the gateway operations independently of transport.
type Dispatcher struct {
	reg      *registry.Registry
	sessions *sessions.Store
	auth     Authenticator
	name     string
	version  string
	log      *slog.Logger
}

// NewDispatcher builds a Dispatcher. Registry and Sessions are required.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		reg:      cfg.Registry,
		sessions: cfg.Sessions,
		auth:     cfg.Auth,
		name:     cfg.ServerName,
		version:  cfg.ServerVersion,
		log:      cfg.Logger,
	}
	if d.name == "" {
		d.name = "mcp-gateway"
	}
	if d.version == "" {
		d.version = "dev"
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

type InitializeRequest struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name,omitempty"`
}

type InitializeResult struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	ServerName    string `json:"server_name"`
	ServerVersion string `json:"server_version"`
}

// ToolDescriptor is the public description of a tool.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// ExecuteResult is the envelope returned for every admitted tool call.
type ExecuteResult struct {
	Content any  `json:"content"`
	IsError bool `json:"isError"`
}

type Health struct {
	Status         string `json:"status"`
	Server         string `json:"server"`
	Version        string `json:"version"`
	ToolsLoaded    int    `json:"tools_loaded"`
	ActiveSessions int    `json:"active_sessions"`
}

// Initialize opens a session. An empty bearer creates an anonymous session;
// a bearer that does not validate is rejected with ErrUnauthenticated.
func (d *Dispatcher) Initialize(ctx context.Context, bearer string, req InitializeRequest) (InitializeResult, error) {
	if req.ClientID == "" {
		return InitializeResult{}, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}

	var principal string
	if bearer != "" {
		if d.auth == nil {
			d.log.WarnContext(ctx, "gateway.initialize.no_provider", slog.String("client_id", req.ClientID))
			return InitializeResult{}, ErrUnauthenticated
		}
		sub, ok := d.auth.ValidateToken(ctx, bearer)
		if !ok {
			d.log.WarnContext(ctx, "gateway.initialize.token_invalid", slog.String("client_id", req.ClientID))
			return InitializeResult{}, ErrUnauthenticated
		}
		principal = sub
	}

	sess := d.sessions.Create(principal, req.ClientID, req.ClientName)
	d.log.InfoContext(ctx, "gateway.session.created",
		slog.String("session_id", sess.ID),
		slog.String("client_id", req.ClientID),
		slog.Bool("anonymous", sess.Anonymous()),
	)
	return InitializeResult{
		SessionID:     sess.ID,
		Status:        "initialized",
		ServerName:    d.name,
		ServerVersion: d.version,
	}, nil
}

// Session resolves a session identifier.
func (d *Dispatcher) Session(id string) (sessions.Session, error) {
	if id == "" {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}
	return d.sessions.Get(id)
}

// DeleteSession ends a session.
func (d *Dispatcher) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return sessions.ErrSessionNotFound
	}
	if err := d.sessions.Delete(id); err != nil {
		return err
	}
	d.log.InfoContext(ctx, "gateway.session.deleted", slog.String("session_id", id))
	return nil
}

// ListTools returns the tools visible to the session's principal.
func (d *Dispatcher) ListTools(ctx context.Context, sessionID string) ([]ToolDescriptor, error) {
	sess, err := d.Session(sessionID)
	if err != nil {
		return nil, err
	}
	ctx = withSession(ctx, sess)

	visible := d.reg.ListFor(ctx, sess.Principal)
	out := make([]ToolDescriptor, 0, len(visible))
	for _, t := range visible {
		out = append(out, ToolDescriptor{
			Name:         t.Name(),
			Description:  t.Description(),
			InputSchema:  t.InputSchema(),
			OutputSchema: t.OutputSchema(),
		})
	}
	d.log.InfoContext(ctx, "gateway.tools.list", slog.Int("count", len(out)))
	return out, nil
}

// ExecuteTool runs a tool on behalf of the session's principal. The returned
// error is non-nil only for protocol rejections.
func (d *Dispatcher) ExecuteTool(ctx context.Context, sessionID, name string, args json.RawMessage) (*ExecuteResult, error) {
	sess, err := d.Session(sessionID)
	if err != nil {
		return nil, err
	}
	ctx = withSession(ctx, sess)
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})

	tool, ok := d.reg.Get(name)
	if !ok {
		d.log.WarnContext(ctx, "gateway.tool.not_found")
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	if !d.reg.CanExecute(ctx, sess.Principal, name) {
		d.log.WarnContext(ctx, "gateway.tool.forbidden")
		return nil, fmt.Errorf("%w to execute %q", ErrForbidden, name)
	}

	if err := tool.ValidateArgs(args); err != nil {
		d.log.InfoContext(ctx, "gateway.tool.invalid_args", slog.String("err", err.Error()))
		return &ExecuteResult{Content: map[string]any{"error": err.Error()}, IsError: true}, nil
	}

	start := time.Now()
	result, err := invoke(ctx, tool, args, sess.Principal)
	var sv *tools.SchemaViolation
	switch {
	case errors.As(err, &sv):
		d.log.InfoContext(ctx, "gateway.tool.invalid_args", slog.String("err", err.Error()))
		return &ExecuteResult{Content: map[string]any{"error": err.Error()}, IsError: true}, nil
	case err != nil:
		d.log.ErrorContext(ctx, "gateway.tool.fail", slog.Duration("duration", time.Since(start)), slog.String("err", err.Error()))
		return &ExecuteResult{Content: map[string]any{"error": err.Error(), "tool": name}, IsError: true}, nil
	}

	d.log.InfoContext(ctx, "gateway.tool.execute", slog.Duration("duration", time.Since(start)))
	return &ExecuteResult{Content: result}, nil
}

// Health reports liveness and load.
func (d *Dispatcher) Health() Health {
	return Health{
		Status:         "healthy",
		Server:         d.name,
		Version:        d.version,
		ToolsLoaded:    d.reg.Count(),
		ActiveSessions: d.sessions.Count(),
	}
}

// invoke runs the tool and turns a panic into an execution fault.
func invoke(ctx context.Context, tool *registry.Tool, args json.RawMessage, principal string) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return tool.Execute(ctx, args, principal)
}

func withSession(ctx context.Context, sess sessions.Session) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID,
		Principal: sess.Principal,
		ClientID:  sess.ClientID,
	})
}
