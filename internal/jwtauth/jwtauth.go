// Package jwtauth validates JWT access tokens locally against the issuer's
// published JWKS. It is the alternative to userinfo validation for identity
// providers that issue RFC 9068 access tokens.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized wraps every token rejection.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrConfig is returned by New for unusable configuration or discovery.
var ErrConfig = errors.New("jwtauth: invalid configuration")

// Config controls token validation.
type Config struct {
	Issuer string
	// Audiences lists the accepted aud values. A token must carry at least
	// one of them.
	Audiences []string
	// JWKSURL skips discovery when set.
	JWKSURL     string
	AllowedAlgs []string
	Leeway      time.Duration
	// AllowUntyped accepts tokens whose typ header is absent or "JWT".
	// Otherwise typ must be at+jwt.
	AllowUntyped bool
	Logger       *slog.Logger
	Now          func() time.Time
}

// Claims is the verified subset of an access token.
type Claims struct {
	Subject  string
	ClientID string
	Scopes   []string
	Expiry   time.Time
}

// Verifier checks signatures, issuer, audience and lifetime.
type Verifier struct {
	cfg     Config
	log     *slog.Logger
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// New builds a Verifier. Unless cfg.JWKSURL is set it performs OIDC discovery
// to locate jwks_uri. ctx bounds the background JWKS refresh, so it should
// live as long as the Verifier.
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrConfig)
	}
	if len(cfg.Audiences) == 0 {
		return nil, fmt.Errorf("%w: at least one audience is required", ErrConfig)
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: discovery: %v", ErrConfig, err)
		}
		var meta struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := provider.Claims(&meta); err != nil {
			return nil, fmt.Errorf("%w: discovery metadata: %v", ErrConfig, err)
		}
		if meta.JWKSURI == "" {
			return nil, fmt.Errorf("%w: discovery document has no jwks_uri", ErrConfig)
		}
		jwksURL = meta.JWKSURI
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("%w: jwks: %v", ErrConfig, err)
	}

	v := &Verifier{
		cfg: cfg,
		log: log,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.AllowedAlgs),
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(cfg.Now),
		),
		keyfunc: kf.Keyfunc,
	}
	log.Info("jwtauth.ready", slog.String("issuer", cfg.Issuer), slog.String("jwks_url", jwksURL))
	return v, nil
}

// Verify parses tok and returns its claims, or an error wrapping
// ErrUnauthorized.
func (v *Verifier) Verify(tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parsed, err := v.parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	typ, _ := parsed.Header["typ"].(string)
	switch strings.ToLower(typ) {
	case "at+jwt", "application/at+jwt":
	case "", "jwt":
		if !v.cfg.AllowUntyped {
			return nil, fmt.Errorf("%w: typ %q is not at+jwt", ErrUnauthorized, typ)
		}
	default:
		return nil, fmt.Errorf("%w: typ %q is not at+jwt", ErrUnauthorized, typ)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrUnauthorized)
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(aud, func(a string) bool { return slices.Contains(v.cfg.Audiences, a) }) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	out := &Claims{Subject: sub}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expiry = exp.Time
	}
	out.ClientID, _ = claims["client_id"].(string)
	if s, ok := claims["scope"].(string); ok {
		out.Scopes = strings.Fields(s)
	}
	return out, nil
}

// ValidateToken reports the token's subject. Rejections are logged at debug
// and reported as false.
func (v *Verifier) ValidateToken(ctx context.Context, tok string) (string, bool) {
	c, err := v.Verify(tok)
	if err != nil {
		v.log.DebugContext(ctx, "jwtauth.token.rejected", slog.String("error", err.Error()))
		return "", false
	}
	return c.Subject, true
}
