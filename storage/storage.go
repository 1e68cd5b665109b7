// Package storage defines a small namespaced key-value interface for state
// the gateway keeps outside its caches, such as sealed client secrets.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is a namespaced byte store.
type Storage interface {
	// Get returns the item stored under key, or nil if the key does not
	// exist or has expired. An error is returned only for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes the key selected with WithKey, or every key in the
	// namespace when no key is given.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored value with its metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item has expired at now.
func (i *Item) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Option configures a storage operation.
type Option func(*Options)

// Options holds the parsed options of one operation.
type Options struct {
	Namespace string         // "" = global
	Key       *string        // Delete only
	TTL       *time.Duration // Set only
}

// Apply parses opts.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithNamespace scopes the operation to ns.
func WithNamespace(ns string) Option {
	return func(o *Options) { o.Namespace = ns }
}

// WithKey selects a single key for Delete.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = &key }
}

// WithTTL sets a time-to-live on Set.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = &ttl }
}

// ErrInvalidOptions is returned when incompatible options are provided.
var ErrInvalidOptions = errors.New("storage: invalid option combination")

// NamespacePrefix returns the key prefix shared by every key in ns.
func NamespacePrefix(ns string) string {
	if ns == "" {
		return "global:"
	}
	return "ns:" + ns + ":"
}

// BuildKey returns the backend key for key in ns.
func BuildKey(ns, key string) string {
	return NamespacePrefix(ns) + key
}
