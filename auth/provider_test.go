package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/auth/authtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memSecrets struct {
	mu      sync.Mutex
	values  map[string]string
	failSet bool
}

func newMemSecrets() *memSecrets { return &memSecrets{values: make(map[string]string)} }

func (m *memSecrets) SetSecret(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("vault unavailable")
	}
	m.values[name] = value
	return nil
}

func (m *memSecrets) GetSecret(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	if !ok {
		return "", errors.New("secret not found")
	}
	return v, nil
}

func newProvider(t *testing.T, srv *authtest.Server, mut ...func(*auth.Config)) *auth.Provider {
	t.Helper()
	cfg := auth.Config{
		Issuer:    srv.Issuer(),
		ServerURL: "https://gateway.test",
		Logger:    slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}
	for _, m := range mut {
		m(&cfg)
	}
	p := auth.NewProvider(cfg)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestDiscoverMetadataCachedFor24Hours(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	clk := newClock()
	p := newProvider(t, srv, func(c *auth.Config) { c.Now = clk.Now })

	ctx := context.Background()
	m1, err := p.DiscoverMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, m1.Issuer)
	assert.Equal(t, srv.URL+"/token", m1.TokenEndpoint)

	clk.Advance(23 * time.Hour)
	m2, err := p.DiscoverMetadata(ctx)
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 1, srv.Calls(authtest.EndpointDiscovery))

	clk.Advance(time.Hour)
	m3, err := p.DiscoverMetadata(ctx)
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)
	assert.Equal(t, 2, srv.Calls(authtest.EndpointDiscovery))
}

func TestDiscoverMetadataFailures(t *testing.T) {
	t.Run("non-success status", func(t *testing.T) {
		srv := authtest.NewServer()
		defer srv.Close()
		srv.DiscoveryStatus = 503
		p := newProvider(t, srv)

		_, err := p.DiscoverMetadata(context.Background())
		require.ErrorIs(t, err, auth.ErrDiscovery)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("missing token endpoint", func(t *testing.T) {
		srv := authtest.NewServer()
		defer srv.Close()
		srv.OmitTokenEndpoint = true
		p := newProvider(t, srv)

		_, err := p.DiscoverMetadata(context.Background())
		require.ErrorIs(t, err, auth.ErrDiscovery)
		assert.Contains(t, err.Error(), "token_endpoint")
	})

	t.Run("unconfigured issuer", func(t *testing.T) {
		p := auth.NewProvider(auth.Config{})
		assert.False(t, p.Configured())
		_, err := p.DiscoverMetadata(context.Background())
		require.ErrorIs(t, err, auth.ErrDiscovery)
	})
}

func TestValidateToken(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	srv.AddUser("good", "user-123")
	srv.AddUser("nosub", "")
	clk := newClock()
	p := newProvider(t, srv, func(c *auth.Config) { c.Now = clk.Now })
	ctx := context.Background()

	sub, ok := p.ValidateToken(ctx, "good")
	require.True(t, ok)
	assert.Equal(t, "user-123", sub)
	assert.Equal(t, 1, srv.Calls(authtest.EndpointUserinfo))

	// Cached: revoking upstream is not observed inside the window.
	srv.RevokeUser("good")
	clk.Advance(4 * time.Minute)
	sub, ok = p.ValidateToken(ctx, "good")
	require.True(t, ok)
	assert.Equal(t, "user-123", sub)
	assert.Equal(t, 1, srv.Calls(authtest.EndpointUserinfo))

	clk.Advance(time.Minute)
	_, ok = p.ValidateToken(ctx, "good")
	assert.False(t, ok)
	assert.Equal(t, 2, srv.Calls(authtest.EndpointUserinfo))

	_, ok = p.ValidateToken(ctx, "unknown")
	assert.False(t, ok)

	_, ok = p.ValidateToken(ctx, "nosub")
	assert.False(t, ok)

	_, ok = p.ValidateToken(ctx, "")
	assert.False(t, ok)
}

func TestValidateTokenDegradesWhenProviderUnreachable(t *testing.T) {
	srv := authtest.NewServer()
	srv.AddUser("good", "user-123")
	p := newProvider(t, srv)
	srv.Close()

	_, ok := p.ValidateToken(context.Background(), "good")
	assert.False(t, ok)
}

func TestRegisterClientIsCached(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	secrets := newMemSecrets()
	p := newProvider(t, srv, func(c *auth.Config) { c.Secrets = secrets })
	ctx := context.Background()

	r1, err := p.RegisterClient(ctx, "app", "My App")
	require.NoError(t, err)
	assert.NotEmpty(t, r1.ClientID)
	assert.NotEmpty(t, r1.ClientSecret)

	discoveries := srv.Calls(authtest.EndpointDiscovery)
	r2, err := p.RegisterClient(ctx, "app", "My App")
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, srv.Calls(authtest.EndpointRegistration))
	assert.Equal(t, discoveries, srv.Calls(authtest.EndpointDiscovery))

	stored, err := secrets.GetSecret(ctx, "mcp-client-app-secret")
	require.NoError(t, err)
	assert.Equal(t, r1.ClientSecret, stored)
}

func TestRegisterClientSecretStoreFailureIsNotFatal(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	secrets := newMemSecrets()
	secrets.failSet = true
	p := newProvider(t, srv, func(c *auth.Config) { c.Secrets = secrets })

	reg, err := p.RegisterClient(context.Background(), "app", "")
	require.NoError(t, err)
	assert.NotEmpty(t, reg.ClientSecret)
}

func TestRegisterClientUnsupported(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	srv.NoRegistration = true
	p := newProvider(t, srv)

	_, err := p.RegisterClient(context.Background(), "app", "")
	require.ErrorIs(t, err, auth.ErrUnsupported)
	assert.Equal(t, 0, srv.Calls(authtest.EndpointRegistration))
}

func TestRefreshTokenUnregisteredClient(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	p := newProvider(t, srv)

	_, err := p.RefreshToken(context.Background(), "ghost", "rt")
	require.ErrorIs(t, err, auth.ErrUnregisteredClient)
	assert.Equal(t, 0, srv.Calls(authtest.EndpointToken))
}

func TestRefreshTokenAfterRegistration(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	clk := newClock()
	p := newProvider(t, srv, func(c *auth.Config) { c.Now = clk.Now })
	ctx := context.Background()

	reg, err := p.RegisterClient(ctx, "app", "")
	require.NoError(t, err)
	srv.AddRefreshToken("rt-1", reg.ClientID)

	tok, err := p.RefreshToken(ctx, "app", "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, 1800*time.Second, tok.ExpiresIn)
	assert.Equal(t, "rt-1", tok.RefreshToken, "refresh token is carried over when not rotated")
	assert.Equal(t, "openid profile", tok.Scope)
	assert.Equal(t, clk.Now(), tok.IssuedAt)
	assert.False(t, tok.IsExpired(clk.Now()))

	// Discovery is reused on the refresh path.
	assert.Equal(t, 1, srv.Calls(authtest.EndpointDiscovery))
}

func TestRefreshTokenRotationAndDefaults(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	srv.RotateRefreshTokens = true
	srv.ExpiresIn = 0
	p := newProvider(t, srv)
	ctx := context.Background()

	reg, err := p.RegisterClient(ctx, "app", "")
	require.NoError(t, err)
	srv.AddRefreshToken("rt-1", reg.ClientID)

	tok, err := p.RefreshToken(ctx, "app", "rt-1")
	require.NoError(t, err)
	assert.NotEqual(t, "rt-1", tok.RefreshToken)
	assert.Equal(t, auth.DefaultExpiresIn, tok.ExpiresIn)

	_, err = p.RefreshToken(ctx, "app", "rt-1")
	require.ErrorIs(t, err, auth.ErrRefresh)
}

func TestRefreshTokenUsesSecretStore(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	srv.AddClient("app", "s3cret")
	srv.AddRefreshToken("rt", "app")

	secrets := newMemSecrets()
	require.NoError(t, secrets.SetSecret(context.Background(), "mcp-client-app-secret", "s3cret"))
	p := newProvider(t, srv, func(c *auth.Config) { c.Secrets = secrets })

	tok, err := p.RefreshToken(context.Background(), "app", "rt")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
}

func TestRefreshTokenSlowCallIsLoggedNotFailed(t *testing.T) {
	srv := authtest.NewServer()
	defer srv.Close()
	srv.TokenDelay = 30 * time.Millisecond

	var buf bytes.Buffer
	p := newProvider(t, srv, func(c *auth.Config) {
		c.RefreshBudget = 5 * time.Millisecond
		c.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	})
	ctx := context.Background()

	reg, err := p.RegisterClient(ctx, "app", "")
	require.NoError(t, err)
	srv.AddRefreshToken("rt", reg.ClientID)

	_, err = p.RefreshToken(ctx, "app", "rt")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "auth.refresh.slow")
}
