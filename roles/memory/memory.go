// Package memory provides an in-process roles.Store, used for tests and for
// single-node deployments seeded at startup.
package memory

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-gateway-go/roles"
)

// Store holds role documents in a map.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]roles.Document
	err     error
	lookups atomic.Int64
}

var _ roles.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string]roles.Document)}
}

// Put stores doc for principal, replacing any previous document.
func (s *Store) Put(principal string, doc roles.Document) {
	s.mu.Lock()
	s.docs[principal] = maps.Clone(doc)
	s.mu.Unlock()
}

// PutRoles is shorthand for Put with a document holding only roles.
func (s *Store) PutRoles(principal string, rs ...string) {
	list := make([]any, len(rs))
	for i, r := range rs {
		list[i] = r
	}
	s.Put(principal, roles.Document{"roles": list})
}

// Delete removes principal's document.
func (s *Store) Delete(principal string) {
	s.mu.Lock()
	delete(s.docs, principal)
	s.mu.Unlock()
}

// SetError makes every subsequent Lookup fail with err. A nil err restores
// normal behaviour.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Lookups reports how many times Lookup has been called.
func (s *Store) Lookups() int {
	return int(s.lookups.Load())
}

// Lookup implements roles.Store.
func (s *Store) Lookup(ctx context.Context, principal string) (roles.Document, error) {
	s.lookups.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	doc, ok := s.docs[principal]
	if !ok {
		return nil, roles.ErrNotFound
	}
	return maps.Clone(doc), nil
}
