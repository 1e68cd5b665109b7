// Package auth talks to the external OAuth 2.0 / OpenID Connect identity
// provider on behalf of the gateway.
//
// A Provider performs four operations against the issuer configured in
// Config:
//
//   - DiscoverMetadata fetches the provider's well-known discovery document
//     and caches it for MetadataTTL.
//   - RegisterClient performs RFC 7591 dynamic client registration and
//     persists the issued client secret through a SecretStore.
//   - ValidateToken resolves an opaque bearer token to a principal by calling
//     the provider's userinfo endpoint. Results are cached for TokenCacheTTL.
//     Any failure yields ok=false; it is never surfaced as an error.
//   - RefreshToken exchanges a refresh token at the token endpoint.
//
// Example:
//
//	p := auth.NewProvider(auth.Config{
//	    Issuer:    "https://login.example.com/tenant",
//	    ServerURL: "https://mcp.example.com",
//	    Secrets:   secretStore,
//	})
//	defer p.Close()
//
//	principal, ok := p.ValidateToken(ctx, bearer)
//	if !ok {
//	    // reject with 401
//	}
//
// Sentinel errors (ErrDiscovery, ErrUnsupported, ErrUnregisteredClient,
// ErrRegistration, ErrRefresh) are wrapped with context and should be
// matched with errors.Is.
package auth
