package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/auth/authtest"
	"github.com/ggoodman/mcp-gateway-go/gateway"
	"github.com/ggoodman/mcp-gateway-go/registry"
	"github.com/ggoodman/mcp-gateway-go/roles"
	"github.com/ggoodman/mcp-gateway-go/roles/memory"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"minLength=1"`
}

type echoResult struct {
	Message   string `json:"message"`
	Principal string `json:"principal"`
}

type noArgs struct{}

func echo(ctx context.Context, a echoArgs, principal string) (echoResult, error) {
	return echoResult{Message: a.Message, Principal: principal}, nil
}

func catalog() []tools.Constructor {
	ok := func(context.Context, noArgs, string) (string, error) { return "ok", nil }
	return []tools.Constructor{
		func() tools.Unit { return tools.New(tools.Spec{Name: "echo", Description: "Echo a message."}, echo) },
		func() tools.Unit {
			return tools.New(tools.Spec{Name: "dev_only", RequiredRoles: []string{"developer"}}, ok)
		},
		func() tools.Unit {
			return tools.New(tools.Spec{Name: "shared", RequiredRoles: []string{"admin", "developer"}}, ok)
		},
		func() tools.Unit {
			return tools.New(tools.Spec{Name: "admin_only", RequiredRoles: []string{"admin"}}, ok)
		},
		func() tools.Unit {
			return tools.New(tools.Spec{Name: "failing"}, func(context.Context, noArgs, string) (string, error) {
				return "", errors.New("upstream exploded")
			})
		},
		func() tools.Unit {
			return tools.New(tools.Spec{Name: "panicky"}, func(context.Context, noArgs, string) (string, error) {
				panic("boom")
			})
		},
	}
}

type env struct {
	*httptest.Server
	idp   *authtest.Server
	store *memory.Store
	d     *gateway.Dispatcher
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEnv(t *testing.T, withProvider bool) *env {
	t.Helper()
	log := quietLogger()

	e := &env{store: memory.New()}
	e.store.PutRoles("admin-user", "admin")
	e.store.PutRoles("nobody", "viewer")

	resolver := roles.NewResolver(roles.WithStore(e.store), roles.WithLogger(log))
	reg, err := registry.Load(context.Background(), catalog(), resolver, registry.WithLogger(log))
	require.NoError(t, err)

	cfg := gateway.Config{
		Registry:      reg,
		Sessions:      sessions.NewStore(),
		ServerName:    "test-gateway",
		ServerVersion: "1.2.3",
		Logger:        log,
	}
	if withProvider {
		e.idp = authtest.NewServer()
		t.Cleanup(e.idp.Close)
		e.idp.AddUser("dev-token", "dev-user")
		e.idp.AddUser("admin-token", "admin-user")
		e.idp.AddUser("nobody-token", "nobody")
		p := auth.NewProvider(auth.Config{Issuer: e.idp.Issuer(), ServerURL: "https://gateway.test", Logger: log})
		t.Cleanup(func() { _ = p.Close() })
		cfg.Auth = p
	}

	e.d = gateway.NewDispatcher(cfg)
	hopts := []gateway.Option{gateway.WithLogger(log)}
	if withProvider {
		hopts = append(hopts, gateway.WithProtectedResource("https://gateway.test", e.idp.Issuer(), "test-gateway"))
	}
	e.Server = httptest.NewServer(gateway.NewHandler(e.d, hopts...))
	t.Cleanup(e.Server.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, session, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set("X-Session-Id", session)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (e *env) initialize(t *testing.T, bearer string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/mcp/initialize", "", bearer, map[string]any{"client_id": "app"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return body["session_id"].(string)
}

func toolNames(body map[string]any) []string {
	var names []string
	for _, t := range body["tools"].([]any) {
		names = append(names, t.(map[string]any)["name"].(string))
	}
	return names
}

func errorMessage(body map[string]any) string {
	return body["error"].(map[string]any)["message"].(string)
}

func TestInitialize(t *testing.T) {
	e := newEnv(t, true)

	t.Run("anonymous", func(t *testing.T) {
		resp, body := e.do(t, http.MethodPost, "/mcp/initialize", "", "", map[string]any{"client_id": "app", "client_name": "App"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, body["session_id"])
		assert.Equal(t, "initialized", body["status"])
		assert.Equal(t, "test-gateway", body["server_name"])
		assert.Equal(t, "1.2.3", body["server_version"])
	})

	t.Run("valid bearer", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPost, "/mcp/initialize", "", "dev-token", map[string]any{"client_id": "app"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("invalid bearer is rejected", func(t *testing.T) {
		resp, body := e.do(t, http.MethodPost, "/mcp/initialize", "", "forged", map[string]any{"client_id": "app"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, float64(401), body["error"].(map[string]any)["code"])
		assert.Equal(t,
			`Bearer resource_metadata="https://gateway.test/.well-known/oauth-protected-resource", error="invalid_token"`,
			resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("missing client id", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPost, "/mcp/initialize", "", "", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("non-json body", func(t *testing.T) {
		resp, err := http.Post(e.URL+"/mcp/initialize", "text/plain", strings.NewReader("client_id=app"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("non-bearer authorization", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, e.URL+"/mcp/initialize", strings.NewReader(`{"client_id":"app"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestProtectedResourceMetadata(t *testing.T) {
	e := newEnv(t, true)
	resp, body := e.do(t, http.MethodGet, "/.well-known/oauth-protected-resource", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://gateway.test", body["resource"])
	assert.Equal(t, []any{e.idp.Issuer()}, body["authorization_servers"])

	anon := newEnv(t, false)
	resp, _ = anon.do(t, http.MethodGet, "/.well-known/oauth-protected-resource", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInitializeWithoutProviderRejectsBearer(t *testing.T) {
	e := newEnv(t, false)

	resp, _ := e.do(t, http.MethodPost, "/mcp/initialize", "", "anything", map[string]any{"client_id": "app"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/mcp/initialize", "", "", map[string]any{"client_id": "app"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListTools(t *testing.T) {
	e := newEnv(t, true)

	tests := []struct {
		name   string
		bearer string
		want   []string
	}{
		{"anonymous sees public tools", "", []string{"echo", "failing", "panicky"}},
		{"unprovisioned user gets default role", "dev-token", []string{"echo", "dev_only", "shared", "failing", "panicky"}},
		{"admin", "admin-token", []string{"echo", "shared", "admin_only", "failing", "panicky"}},
		{"user without matching roles", "nobody-token", []string{"echo", "failing", "panicky"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sid := e.initialize(t, tt.bearer)
			resp, body := e.do(t, http.MethodGet, "/mcp/tools", sid, "", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.want, toolNames(body))
		})
	}
}

func TestListToolsDescriptor(t *testing.T) {
	e := newEnv(t, false)
	sid := e.initialize(t, "")

	_, body := e.do(t, http.MethodGet, "/mcp/tools", sid, "", nil)
	first := body["tools"].([]any)[0].(map[string]any)
	assert.Equal(t, "echo", first["name"])
	assert.Equal(t, "Echo a message.", first["description"])
	assert.Equal(t, "object", first["inputSchema"].(map[string]any)["type"])
	assert.Contains(t, first, "outputSchema")

	failing := body["tools"].([]any)[1].(map[string]any)
	assert.NotContains(t, failing, "outputSchema")
}

func TestSessionRequired(t *testing.T) {
	e := newEnv(t, false)

	for _, sid := range []string{"", "not-a-session"} {
		resp, body := e.do(t, http.MethodGet, "/mcp/tools", sid, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid or missing session ID", errorMessage(body))

		resp, _ = e.do(t, http.MethodPost, "/mcp/tools/execute", sid, "", map[string]any{"tool_name": "echo"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestExecuteTool(t *testing.T) {
	e := newEnv(t, true)
	anon := e.initialize(t, "")
	dev := e.initialize(t, "dev-token")

	exec := func(sid, tool string, args any) (*http.Response, map[string]any) {
		return e.do(t, http.MethodPost, "/mcp/tools/execute", sid, "", map[string]any{"tool_name": tool, "arguments": args})
	}

	t.Run("success returns result unmodified", func(t *testing.T) {
		resp, body := exec(dev, "echo", map[string]any{"message": "hi"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["isError"])
		assert.Equal(t, map[string]any{"message": "hi", "principal": "dev-user"}, body["content"])
	})

	t.Run("unknown tool", func(t *testing.T) {
		resp, _ := exec(dev, "nope", map[string]any{})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("forbidden", func(t *testing.T) {
		resp, _ := exec(dev, "admin_only", map[string]any{})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = exec(anon, "dev_only", map[string]any{})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("at least one role suffices", func(t *testing.T) {
		resp, body := exec(dev, "shared", map[string]any{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["isError"])
	})

	t.Run("schema violation", func(t *testing.T) {
		resp, body := exec(anon, "echo", map[string]any{"message": 42})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["isError"])
		content := body["content"].(map[string]any)
		assert.Contains(t, content["error"], "invalid arguments")
		assert.NotContains(t, content, "tool")
	})

	t.Run("missing arguments", func(t *testing.T) {
		resp, body := e.do(t, http.MethodPost, "/mcp/tools/execute", anon, "", map[string]any{"tool_name": "echo"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["isError"])
	})

	t.Run("execution fault", func(t *testing.T) {
		resp, body := exec(anon, "failing", map[string]any{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["isError"])
		assert.Equal(t, map[string]any{"error": "upstream exploded", "tool": "failing"}, body["content"])
	})

	t.Run("panic is an execution fault", func(t *testing.T) {
		resp, body := exec(anon, "panicky", map[string]any{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["isError"])
		assert.Contains(t, body["content"].(map[string]any)["error"], "boom")
	})
}

func TestRoleStoreOutageFailsClosed(t *testing.T) {
	e := newEnv(t, true)
	sid := e.initialize(t, "dev-token")
	e.store.SetError(errors.New("connection refused"))

	resp, _ := e.do(t, http.MethodPost, "/mcp/tools/execute", sid, "", map[string]any{"tool_name": "dev_only", "arguments": map[string]any{}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, body := e.do(t, http.MethodGet, "/mcp/tools", sid, "", nil)
	assert.Equal(t, []string{"echo", "failing", "panicky"}, toolNames(body))
}

func TestHealthAndDeleteSession(t *testing.T) {
	e := newEnv(t, false)
	sid := e.initialize(t, "")
	e.initialize(t, "")

	resp, body := e.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{
		"status":          "healthy",
		"server":          "test-gateway",
		"version":         "1.2.3",
		"tools_loaded":    float64(6),
		"active_sessions": float64(2),
	}, body)

	resp, _ = e.do(t, http.MethodDelete, "/mcp/session", sid, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = e.do(t, http.MethodDelete, "/mcp/session", sid, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 1, e.d.Health().ActiveSessions)
}

func (e *env) rpc(t *testing.T, session, bearer string, msg map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	msg["jsonrpc"] = "2.0"
	return e.do(t, http.MethodPost, "/mcp", session, bearer, msg)
}

func TestJSONRPC(t *testing.T) {
	e := newEnv(t, true)

	resp, body := e.rpc(t, "", "dev-token", map[string]any{"id": 1, "method": "initialize", "params": map[string]any{"client_id": "app"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["id"])
	sid := body["result"].(map[string]any)["session_id"].(string)

	t.Run("tools/list via params", func(t *testing.T) {
		_, body := e.rpc(t, "", "", map[string]any{"id": "a", "method": "tools/list", "params": map[string]any{"session_id": sid}})
		assert.Equal(t, "a", body["id"])
		assert.Contains(t, toolNames(body["result"].(map[string]any)), "dev_only")
	})

	t.Run("tools/call", func(t *testing.T) {
		_, body := e.rpc(t, sid, "", map[string]any{"id": 2, "method": "tools/call", "params": map[string]any{"name": "echo", "arguments": map[string]any{"message": "x"}}})
		result := body["result"].(map[string]any)
		assert.Equal(t, false, result["isError"])
	})

	t.Run("schema violation is a result", func(t *testing.T) {
		_, body := e.rpc(t, sid, "", map[string]any{"id": 3, "method": "tools/call", "params": map[string]any{"name": "echo", "arguments": map[string]any{}}})
		assert.NotContains(t, body, "error")
		assert.Equal(t, true, body["result"].(map[string]any)["isError"])
	})

	codes := []struct {
		name   string
		sid    string
		method string
		params map[string]any
		code   float64
	}{
		{"unknown tool", sid, "tools/call", map[string]any{"name": "nope"}, -32004},
		{"forbidden", sid, "tools/call", map[string]any{"name": "admin_only"}, -32003},
		{"no session", "", "tools/list", nil, -32001},
		{"unknown method", sid, "resources/list", nil, -32601},
		{"missing name", sid, "tools/call", map[string]any{}, -32602},
	}
	for _, tt := range codes {
		t.Run(tt.name, func(t *testing.T) {
			msg := map[string]any{"id": 9, "method": tt.method}
			if tt.params != nil {
				msg["params"] = tt.params
			}
			_, body := e.rpc(t, tt.sid, "", msg)
			require.Contains(t, body, "error")
			assert.Equal(t, tt.code, body["error"].(map[string]any)["code"])
		})
	}

	t.Run("invalid bearer", func(t *testing.T) {
		_, body := e.rpc(t, "", "forged", map[string]any{"id": 4, "method": "initialize", "params": map[string]any{"client_id": "app"}})
		assert.Equal(t, float64(-32001), body["error"].(map[string]any)["code"])
	})

	t.Run("notification", func(t *testing.T) {
		resp, body := e.rpc(t, sid, "", map[string]any{"method": "tools/list"})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Nil(t, body)
	})

	t.Run("parse error", func(t *testing.T) {
		resp, err := http.Post(e.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":`))
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, float64(-32700), body["error"].(map[string]any)["code"])
		assert.Nil(t, body["id"])
	})
}
