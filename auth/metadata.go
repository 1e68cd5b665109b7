package auth

import (
	"fmt"
	"strings"
	"time"
)

const wellKnownPath = "/.well-known/openid-configuration"

// ProviderMetadata is the subset of the discovery document the gateway uses.
// A snapshot is replaced wholesale on refresh, never patched.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}

func (m *ProviderMetadata) validate() error {
	var missing []string
	if m.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if m.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if m.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ClientRegistration is what the provider returned for a dynamically
// registered client. The secret held here is a cache; the SecretStore is
// authoritative.
type ClientRegistration struct {
	ClientID                string
	ClientSecret            string
	RegistrationClientURI   string
	RegistrationAccessToken string
	RegisteredAt            time.Time
}

type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ApplicationType         string   `json:"application_type"`
}

type registrationResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret"`
	RegistrationClientURI   string `json:"registration_client_uri"`
	RegistrationAccessToken string `json:"registration_access_token"`
}

// discoveryURL turns an issuer into the URL of its discovery document. An
// issuer that already points at a well-known document is used as is.
func discoveryURL(issuer string) string {
	if strings.Contains(issuer, "/.well-known/") {
		return issuer
	}
	return strings.TrimRight(issuer, "/") + wellKnownPath
}
