package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/mcp-gateway-go/internal/ttlcache"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

// Config controls how a Provider reaches the identity provider.
type Config struct {
	// Issuer is the provider's issuer URL or the URL of its discovery
	// document. An empty Issuer leaves the Provider unconfigured: every
	// token fails validation and every other operation returns ErrDiscovery.
	Issuer string

	// ServerURL is the gateway's public base URL, used to build the
	// redirect URI sent during registration.
	ServerURL string

	// SecretPrefix is prepended to client identifiers to name secrets.
	// Default: "mcp-client".
	SecretPrefix string

	// Secrets persists client secrets. Optional.
	Secrets SecretStore

	// HTTPClient is used for every call to the provider. Default: a fresh
	// client owned by the Provider.
	HTTPClient *http.Client

	// HTTPTimeout bounds each individual call. Default: 5s.
	HTTPTimeout time.Duration

	// RefreshBudget is the latency above which RefreshToken logs a warning.
	// Default: 1s.
	RefreshBudget time.Duration

	Logger *slog.Logger

	// Now overrides the clock used for cache ages and token timestamps.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.SecretPrefix == "" {
		c.SecretPrefix = "mcp-client"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 5 * time.Second
	}
	if c.RefreshBudget <= 0 {
		c.RefreshBudget = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// discovered pairs a metadata snapshot with the oidc provider built from it.
type discovered struct {
	meta *ProviderMetadata
	oidc *oidc.Provider
}

// Provider is a client for a single identity provider. It is safe for
// concurrent use.
type Provider struct {
	cfg  Config
	log  *slog.Logger
	http *resty.Client

	metadata *ttlcache.Cache[string, *discovered]
	tokens   *ttlcache.Cache[string, string]

	regMu         sync.RWMutex
	registrations map[string]*ClientRegistration
}

// NewProvider creates a Provider. No network calls are made until the first
// operation.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetHeader("Accept", "application/json")

	return &Provider{
		cfg:           cfg,
		log:           cfg.Logger,
		http:          rc,
		metadata:      ttlcache.New[string, *discovered](MetadataTTL, ttlcache.WithClock(cfg.Now), ttlcache.WithMaxEntries(1)),
		tokens:        ttlcache.New[string, string](TokenCacheTTL, ttlcache.WithClock(cfg.Now)),
		registrations: make(map[string]*ClientRegistration),
	}
}

// Configured reports whether an issuer was supplied.
func (p *Provider) Configured() bool {
	return p.cfg.Issuer != ""
}

// SecretName returns the secret store key for a client's secret.
func (p *Provider) SecretName(clientID string) string {
	return fmt.Sprintf("%s-%s-secret", p.cfg.SecretPrefix, clientID)
}

// DiscoverMetadata returns cached metadata younger than MetadataTTL, or
// fetches and caches a fresh copy.
func (p *Provider) DiscoverMetadata(ctx context.Context) (*ProviderMetadata, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	return d.meta, nil
}

func (p *Provider) discover(ctx context.Context) (*discovered, error) {
	url := discoveryURL(p.cfg.Issuer)
	if d, ok := p.metadata.Get(url); ok {
		return d, nil
	}
	if !p.Configured() {
		return nil, fmt.Errorf("%w: issuer is not configured", ErrDiscovery)
	}

	start := p.cfg.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	resp, err := p.http.R().SetContext(ctx).Get(url)
	if err != nil {
		p.log.ErrorContext(ctx, "auth.discovery.fail", slog.String("url", url), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrDiscovery, url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		p.log.ErrorContext(ctx, "auth.discovery.fail", slog.String("url", url), slog.Int("status", resp.StatusCode()))
		return nil, fmt.Errorf("%w: fetch %s: HTTP %d", ErrDiscovery, url, resp.StatusCode())
	}

	var meta ProviderMetadata
	if err := json.Unmarshal(resp.Body(), &meta); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrDiscovery, url, err)
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	pc := &oidc.ProviderConfig{
		IssuerURL:   meta.Issuer,
		AuthURL:     meta.AuthorizationEndpoint,
		TokenURL:    meta.TokenEndpoint,
		UserInfoURL: meta.UserinfoEndpoint,
	}
	d := &discovered{
		meta: &meta,
		oidc: pc.NewProvider(oidc.ClientContext(context.Background(), p.http.GetClient())),
	}
	p.metadata.Set(url, d)

	p.log.InfoContext(ctx, "auth.discovery.ok",
		slog.String("issuer", meta.Issuer),
		slog.Bool("registration", meta.RegistrationEndpoint != ""),
		slog.Duration("dur", p.cfg.Now().Sub(start)),
	)
	return d, nil
}

// RegisterClient returns the cached registration for clientID or performs
// dynamic client registration. A failure to persist the issued secret is
// logged and does not fail the registration.
func (p *Provider) RegisterClient(ctx context.Context, clientID, displayName string) (*ClientRegistration, error) {
	p.regMu.RLock()
	reg, ok := p.registrations[clientID]
	p.regMu.RUnlock()
	if ok {
		return reg, nil
	}

	meta, err := p.DiscoverMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("%w: dynamic client registration", ErrUnsupported)
	}

	if displayName == "" {
		displayName = "mcp-" + clientID
	}
	body := registrationRequest{
		ClientName:              displayName,
		RedirectURIs:            []string{p.cfg.ServerURL + "/oauth/callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_post",
		ApplicationType:         "web",
	}

	rctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	resp, err := p.http.R().
		SetContext(rctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(meta.RegistrationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRegistration, resp.StatusCode(), resp.String())
	}

	var out registrationResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrRegistration, err)
	}
	if out.ClientID == "" {
		return nil, fmt.Errorf("%w: response missing client_id", ErrRegistration)
	}

	reg = &ClientRegistration{
		ClientID:                out.ClientID,
		ClientSecret:            out.ClientSecret,
		RegistrationClientURI:   out.RegistrationClientURI,
		RegistrationAccessToken: out.RegistrationAccessToken,
		RegisteredAt:            p.cfg.Now(),
	}

	if p.cfg.Secrets != nil && reg.ClientSecret != "" {
		name := p.SecretName(clientID)
		if err := p.cfg.Secrets.SetSecret(ctx, name, reg.ClientSecret); err != nil {
			p.log.ErrorContext(ctx, "auth.register.secret_store_failed", slog.String("secret", name), slog.String("err", err.Error()))
		} else {
			p.log.InfoContext(ctx, "auth.register.secret_stored", slog.String("secret", name))
		}
	}

	p.regMu.Lock()
	if existing, ok := p.registrations[clientID]; ok {
		p.regMu.Unlock()
		return existing, nil
	}
	p.registrations[clientID] = reg
	p.regMu.Unlock()

	p.log.InfoContext(ctx, "auth.register.ok", slog.String("client_id", clientID), slog.String("issued_client_id", reg.ClientID))
	return reg, nil
}

// ValidateToken resolves a bearer token to the provider's subject claim.
// ok is false for any failure: a rejected token, a response without a
// subject, or a provider that cannot be reached.
func (p *Provider) ValidateToken(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	key := tokenKey(token)
	if sub, ok := p.tokens.Get(key); ok {
		return sub, true
	}

	d, err := p.discover(ctx)
	if err != nil {
		p.log.WarnContext(ctx, "auth.validate.discovery_failed", slog.String("err", err.Error()))
		return "", false
	}
	if d.meta.UserinfoEndpoint == "" {
		p.log.ErrorContext(ctx, "auth.validate.no_userinfo_endpoint")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()
	ctx = oidc.ClientContext(ctx, p.http.GetClient())

	info, err := d.oidc.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	if err != nil {
		p.log.WarnContext(ctx, "auth.validate.rejected", slog.String("err", err.Error()))
		return "", false
	}
	if info.Subject == "" {
		p.log.ErrorContext(ctx, "auth.validate.missing_sub")
		return "", false
	}

	p.tokens.Set(key, info.Subject)
	return info.Subject, true
}

// RefreshToken exchanges refreshToken for a new Token. The call is expected
// to finish within Config.RefreshBudget; a slower call is logged as
// auth.refresh.slow but still returns its result.
func (p *Provider) RefreshToken(ctx context.Context, clientID, refreshToken string) (*Token, error) {
	start := p.cfg.Now()
	defer func() {
		if dur := p.cfg.Now().Sub(start); dur > p.cfg.RefreshBudget {
			p.log.WarnContext(ctx, "auth.refresh.slow",
				slog.String("client_id", clientID),
				slog.Duration("dur", dur),
				slog.Duration("budget", p.cfg.RefreshBudget),
			)
		}
	}()

	issuedID, secret, err := p.clientCredentials(ctx, clientID)
	if err != nil {
		return nil, err
	}

	meta, err := p.DiscoverMetadata(ctx)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()
	rctx = context.WithValue(rctx, oauth2.HTTPClient, p.http.GetClient())

	conf := &oauth2.Config{
		ClientID:     issuedID,
		ClientSecret: secret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ot, err := conf.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		p.log.ErrorContext(ctx, "auth.refresh.fail", slog.String("client_id", clientID), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	now := p.cfg.Now()
	tok := &Token{
		AccessToken:  ot.AccessToken,
		TokenType:    ot.TokenType,
		ExpiresIn:    expiresIn(ot, now),
		RefreshToken: ot.RefreshToken,
		IssuedAt:     now,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	if scope, ok := ot.Extra("scope").(string); ok {
		tok.Scope = scope
	}

	p.log.InfoContext(ctx, "auth.refresh.ok", slog.String("client_id", clientID), slog.Duration("dur", now.Sub(start)))
	return tok, nil
}

// clientCredentials resolves the identifier and secret to present at the
// token endpoint: the in-memory registration first, then the secret store.
func (p *Provider) clientCredentials(ctx context.Context, clientID string) (string, string, error) {
	p.regMu.RLock()
	reg := p.registrations[clientID]
	p.regMu.RUnlock()

	issuedID := clientID
	if reg != nil {
		issuedID = reg.ClientID
		if reg.ClientSecret != "" {
			return issuedID, reg.ClientSecret, nil
		}
	}

	if p.cfg.Secrets != nil {
		name := p.SecretName(clientID)
		secret, err := p.cfg.Secrets.GetSecret(ctx, name)
		switch {
		case err != nil:
			p.log.WarnContext(ctx, "auth.refresh.secret_lookup_failed", slog.String("secret", name), slog.String("err", err.Error()))
		case secret != "":
			return issuedID, secret, nil
		}
	}

	if reg == nil {
		return "", "", fmt.Errorf("%w: %s", ErrUnregisteredClient, clientID)
	}
	// Registered without a secret: a public client.
	return issuedID, "", nil
}

// Close releases idle connections and drops every cache.
func (p *Provider) Close() error {
	p.http.GetClient().CloseIdleConnections()
	p.metadata.Purge()
	p.tokens.Purge()

	p.regMu.Lock()
	p.registrations = make(map[string]*ClientRegistration)
	p.regMu.Unlock()
	return nil
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func expiresIn(t *oauth2.Token, now time.Time) time.Duration {
	switch v := t.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if !t.Expiry.IsZero() {
		return time.Duration(math.Round(t.Expiry.Sub(now).Seconds())) * time.Second
	}
	return DefaultExpiresIn
}
