// Package redis provides a roles.Store that reads JSON role documents from
// Redis string keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-gateway-go/roles"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis role store.
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all role document keys
	// Default: "mcp:roles:"
	KeyPrefix string
}

// Store reads role documents stored at KeyPrefix+principal.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ roles.Store = (*Store)(nil)

// New creates a Redis-backed role store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "mcp:roles:"
	}
	return &Store{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

// Put writes principal's document.
func (s *Store) Put(ctx context.Context, principal string, doc roles.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal role document: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+principal, b, 0).Err(); err != nil {
		return fmt.Errorf("failed to set roles for %s: %w", principal, err)
	}
	return nil
}

// Delete removes principal's document.
func (s *Store) Delete(ctx context.Context, principal string) error {
	return s.client.Del(ctx, s.keyPrefix+principal).Err()
}

// Lookup implements roles.Store.
func (s *Store) Lookup(ctx context.Context, principal string) (roles.Document, error) {
	b, err := s.client.Get(ctx, s.keyPrefix+principal).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, roles.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get roles for %s: %w", principal, err)
	}

	var doc roles.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role document for %s: %w", principal, err)
	}
	return doc, nil
}
