package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDiscovery indicates the discovery document could not be fetched or
	// was missing required fields.
	ErrDiscovery = errors.New("auth: metadata discovery failed")

	// ErrUnsupported indicates the provider does not offer the requested
	// feature, for example dynamic client registration.
	ErrUnsupported = errors.New("auth: not supported by provider")

	// ErrUnregisteredClient indicates a refresh was attempted for a client
	// that never registered and whose secret is not in the secret store.
	ErrUnregisteredClient = errors.New("auth: client not registered")

	// ErrRegistration indicates the registration endpoint rejected the request.
	ErrRegistration = errors.New("auth: client registration failed")

	// ErrRefresh indicates the token endpoint rejected a refresh exchange.
	ErrRefresh = errors.New("auth: token refresh failed")
)

const (
	// MetadataTTL is how long discovered provider metadata is reused.
	MetadataTTL = 24 * time.Hour

	// TokenCacheTTL is how long a successful token validation is reused.
	TokenCacheTTL = 5 * time.Minute

	// ExpirySafetyMargin is subtracted from a token's lifetime when deciding
	// whether it has expired.
	ExpirySafetyMargin = 60 * time.Second

	// DefaultExpiresIn is assumed when a token response omits expires_in.
	DefaultExpiresIn = 3600 * time.Second
)

// SecretStore persists client secrets outside the process.
type SecretStore interface {
	SetSecret(ctx context.Context, name, value string) error
	GetSecret(ctx context.Context, name string) (string, error)
}
