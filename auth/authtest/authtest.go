// Package authtest provides an in-process identity provider for tests. It
// serves a discovery document, a userinfo endpoint, a refresh-token grant and
// a dynamic registration endpoint, and counts the calls made to each.
package authtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Endpoint names accepted by Server.Calls.
const (
	EndpointDiscovery    = "discovery"
	EndpointUserinfo     = "userinfo"
	EndpointToken        = "token"
	EndpointRegistration = "registration"
)

// Server is a mock identity provider backed by httptest.Server.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	users         map[string]string // access token -> subject ("" omits sub)
	clients       map[string]string // client_id -> client_secret
	refreshTokens map[string]string // refresh token -> client_id
	seq           int

	// NoRegistration omits registration_endpoint from discovery.
	NoRegistration bool
	// DiscoveryStatus overrides the discovery response status when non-zero.
	DiscoveryStatus int
	// OmitTokenEndpoint drops token_endpoint from discovery.
	OmitTokenEndpoint bool
	// RotateRefreshTokens makes the token endpoint issue a new refresh token.
	RotateRefreshTokens bool
	// TokenDelay is slept before the token endpoint answers.
	TokenDelay time.Duration
	// ExpiresIn is the lifetime reported by the token endpoint. Zero omits
	// the field.
	ExpiresIn int

	calls map[string]*atomic.Int64
}

// NewServer starts a mock provider. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		users:         make(map[string]string),
		clients:       make(map[string]string),
		refreshTokens: make(map[string]string),
		ExpiresIn:     1800,
		calls: map[string]*atomic.Int64{
			EndpointDiscovery:    new(atomic.Int64),
			EndpointUserinfo:     new(atomic.Int64),
			EndpointToken:        new(atomic.Int64),
			EndpointRegistration: new(atomic.Int64),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("GET /userinfo", s.handleUserinfo)
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /register", s.handleRegister)
	s.Server = httptest.NewServer(mux)
	return s
}

// Issuer returns the issuer URL to configure a provider client with.
func (s *Server) Issuer() string { return s.URL }

// AddUser makes token valid for subject. An empty subject produces a
// userinfo response without a sub claim.
func (s *Server) AddUser(token, subject string) {
	s.mu.Lock()
	s.users[token] = subject
	s.mu.Unlock()
}

// RevokeUser makes token invalid.
func (s *Server) RevokeUser(token string) {
	s.mu.Lock()
	delete(s.users, token)
	s.mu.Unlock()
}

// AddClient pre-registers a confidential client.
func (s *Server) AddClient(clientID, secret string) {
	s.mu.Lock()
	s.clients[clientID] = secret
	s.mu.Unlock()
}

// AddRefreshToken issues a refresh token to clientID.
func (s *Server) AddRefreshToken(token, clientID string) {
	s.mu.Lock()
	s.refreshTokens[token] = clientID
	s.mu.Unlock()
}

// Calls reports how many requests an endpoint has served.
func (s *Server) Calls(endpoint string) int {
	c, ok := s.calls[endpoint]
	if !ok {
		return 0
	}
	return int(c.Load())
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.calls[EndpointDiscovery].Add(1)
	if s.DiscoveryStatus != 0 {
		http.Error(w, "unavailable", s.DiscoveryStatus)
		return
	}

	doc := map[string]any{
		"issuer":                 s.URL,
		"authorization_endpoint": s.URL + "/authorize",
		"userinfo_endpoint":      s.URL + "/userinfo",
	}
	if !s.OmitTokenEndpoint {
		doc["token_endpoint"] = s.URL + "/token"
	}
	if !s.NoRegistration {
		doc["registration_endpoint"] = s.URL + "/register"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	s.calls[EndpointUserinfo].Add(1)

	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		http.Error(w, "missing bearer", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	sub, known := s.users[tok]
	s.mu.Unlock()
	if !known {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	body := map[string]any{"name": "Test User"}
	if sub != "" {
		body["sub"] = sub
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.calls[EndpointToken].Add(1)
	if s.TokenDelay > 0 {
		time.Sleep(s.TokenDelay)
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	clientID := r.PostForm.Get("client_id")
	secret := r.PostForm.Get("client_secret")
	rt := r.PostForm.Get("refresh_token")

	s.mu.Lock()
	defer s.mu.Unlock()

	if want, ok := s.clients[clientID]; !ok || want != secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if owner, ok := s.refreshTokens[rt]; !ok || owner != clientID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	s.seq++
	resp := map[string]any{
		"access_token": fmt.Sprintf("access-%d", s.seq),
		"token_type":   "Bearer",
		"scope":        "openid profile",
	}
	if s.ExpiresIn > 0 {
		resp["expires_in"] = s.ExpiresIn
	}
	if s.RotateRefreshTokens {
		next := fmt.Sprintf("refresh-%d", s.seq)
		delete(s.refreshTokens, rt)
		s.refreshTokens[next] = clientID
		resp["refresh_token"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.calls[EndpointRegistration].Add(1)

	var req struct {
		ClientName   string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.RedirectURIs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client_metadata"})
		return
	}

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("issued-%d", s.seq)
	secret := fmt.Sprintf("secret-%d", s.seq)
	s.clients[id] = secret
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                 id,
		"client_secret":             secret,
		"client_name":               req.ClientName,
		"registration_client_uri":   s.URL + "/register/" + id,
		"registration_access_token": "rat-" + id,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
