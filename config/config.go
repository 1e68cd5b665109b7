// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/mcp-gateway-go/internal/logctx"
	"github.com/joeshaw/envdecode"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Secrets and roles backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// Bearer validation modes.
const (
	AuthModeUserinfo = "userinfo"
	AuthModeJWT      = "jwt"
)

// Config is the full gateway configuration. Each field names its variable.
type Config struct {
	ServerURL  string `env:"MCP_SERVER_URL,default=http://localhost:8080"`
	ServerHost string `env:"MCP_SERVER_HOST,default=0.0.0.0"`
	ServerPort int    `env:"MCP_SERVER_PORT,default=8080"`

	// OIDCIssuer enables bearer authentication. Empty runs anonymous-only.
	OIDCIssuer           string        `env:"OIDC_ISSUER"`
	OIDCHTTPTimeout      time.Duration `env:"OIDC_HTTP_TIMEOUT,default=5s"`
	RefreshLatencyBudget time.Duration `env:"REFRESH_LATENCY_BUDGET,default=1s"`
	SecretNamePrefix     string        `env:"SECRET_NAME_PREFIX,default=mcp-client"`

	// AuthMode selects userinfo round-trips or local JWT verification.
	AuthMode        string        `env:"AUTH_MODE,default=userinfo"`
	OIDCAudience    string        `env:"OIDC_AUDIENCE"`
	OIDCJWKSURL     string        `env:"OIDC_JWKS_URL"`
	JWTLeeway       time.Duration `env:"JWT_LEEWAY,default=30s"`
	JWTAllowUntyped bool          `env:"JWT_ALLOW_UNTYPED,default=false"`

	SecretsBackend     string `env:"SECRETS_BACKEND,default=memory"`
	SecretsAgeIdentity string `env:"SECRETS_AGE_IDENTITY"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	RolesBackend     string        `env:"ROLES_BACKEND,default=none"`
	RolesPostgresDSN string        `env:"ROLES_POSTGRES_DSN"`
	RolesFile        string        `env:"ROLES_FILE"`
	RolesCacheTTL    time.Duration `env:"ROLES_CACHE_TTL,default=10m"`
	// DefaultRole is granted to authenticated principals without a role
	// document. "none" disables the grant.
	DefaultRole string `env:"DEFAULT_ROLE,default=developer"`

	// BrokerBackend carries role cache invalidations between nodes.
	BrokerBackend string `env:"BROKER_BACKEND,default=none"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE,default=0s"`

	ToolsManifest    string `env:"TOOLS_MANIFEST"`
	ToolsPostgresDSN string `env:"TOOLS_POSTGRES_DSN"`
	GitAllowedRoot   string `env:"GIT_ALLOWED_ROOT"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
}

// Load decodes the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		bad("MCP_SERVER_PORT %d out of range", c.ServerPort)
	}

	switch c.AuthMode {
	case AuthModeUserinfo:
	case AuthModeJWT:
		if c.OIDCIssuer == "" {
			bad("AUTH_MODE=jwt requires OIDC_ISSUER")
		}
		if c.OIDCAudience == "" {
			bad("AUTH_MODE=jwt requires OIDC_AUDIENCE")
		}
	default:
		bad("AUTH_MODE %q is not one of userinfo, jwt", c.AuthMode)
	}
	if c.JWTLeeway < 0 {
		bad("JWT_LEEWAY must not be negative")
	}

	switch c.SecretsBackend {
	case BackendNone, BackendMemory, BackendRedis:
	default:
		bad("SECRETS_BACKEND %q is not one of none, memory, redis", c.SecretsBackend)
	}

	switch c.RolesBackend {
	case BackendNone, BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.RolesPostgresDSN == "" {
			bad("ROLES_BACKEND=postgres requires ROLES_POSTGRES_DSN")
		}
	case BackendFile:
		if c.RolesFile == "" {
			bad("ROLES_BACKEND=file requires ROLES_FILE")
		}
	default:
		bad("ROLES_BACKEND %q is not one of none, memory, postgres, redis, file", c.RolesBackend)
	}

	switch c.BrokerBackend {
	case BackendNone, BackendRedis:
	default:
		bad("BROKER_BACKEND %q is not one of none, redis", c.BrokerBackend)
	}

	if c.RolesCacheTTL <= 0 {
		bad("ROLES_CACHE_TTL must be positive")
	}
	if c.SessionMaxAge < 0 {
		bad("SESSION_MAX_AGE must not be negative")
	}
	if _, err := c.level(); err != nil {
		bad("LOG_LEVEL %q: %v", c.LogLevel, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		bad("LOG_FORMAT %q is not one of text, json", c.LogFormat)
	}

	return errors.Join(errs...)
}

// ListenAddr is the address the HTTP server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// Audiences splits OIDC_AUDIENCE on commas.
func (c *Config) Audiences() []string {
	var out []string
	for _, a := range strings.Split(c.OIDCAudience, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// EffectiveDefaultRole returns the default role, or "" when disabled.
func (c *Config) EffectiveDefaultRole() string {
	if strings.EqualFold(c.DefaultRole, BackendNone) {
		return ""
	}
	return c.DefaultRole
}

// NewLogger builds the process logger writing to w, wrapped so records
// carry request, session and tool context.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.NewHandler(h)), nil
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}
