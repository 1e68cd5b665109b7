// Package wellknown holds documents served under /.well-known/.
package wellknown

import (
	"net/url"
	"strings"
)

// ProtectedResourcePath is where RFC 9728 metadata is served.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the RFC 9728 document telling clients which
// authorization server issues tokens the gateway accepts.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// MetadataURL returns the absolute metadata URL for a resource base URL.
func MetadataURL(resource string) string {
	u, err := url.Parse(resource)
	if err != nil || u.Host == "" {
		return strings.TrimRight(resource, "/") + ProtectedResourcePath
	}
	u.Path = ProtectedResourcePath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
