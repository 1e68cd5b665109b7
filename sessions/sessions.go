// Package sessions maps opaque session identifiers to the principal a client
// authenticated as when it initialized.
//
// Sessions are process-local. By default they live until deleted; WithMaxAge
// bounds their lifetime for deployments that cannot tolerate unbounded
// growth.
package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown, deleted or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session is one initialized client connection sequence.
type Session struct {
	ID string
	// Principal is empty for anonymous sessions.
	Principal  string
	ClientID   string
	ClientName string
	CreatedAt  time.Time
}

// Anonymous reports whether the session has no principal.
func (s Session) Anonymous() bool { return s.Principal == "" }

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxAge expires sessions older than d. Zero disables expiry.
func WithMaxAge(d time.Duration) StoreOption {
	return func(s *Store) { s.maxAge = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is an in-memory session table safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
	maxAge   time.Duration
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a new session with a random identifier.
func (s *Store) Create(principal, clientID, clientName string) Session {
	sess := Session{
		ID:         uuid.NewString(),
		Principal:  principal,
		ClientID:   clientID,
		ClientName: clientName,
		CreatedAt:  s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session with id.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.expired(sess) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	if s.expired(sess) {
		return ErrSessionNotFound
	}
	return nil
}

// Count reports the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.maxAge <= 0 {
		return len(s.sessions)
	}
	n := 0
	for _, sess := range s.sessions {
		if !s.expired(sess) {
			n++
		}
	}
	return n
}

// Prune drops expired sessions and reports how many were removed.
func (s *Store) Prune() int {
	if s.maxAge <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *Store) expired(sess Session) bool {
	return s.maxAge > 0 && s.now().Sub(sess.CreatedAt) >= s.maxAge
}
