// Package postgres provides a roles.Store backed by a PostgreSQL table of
// JSON documents keyed by principal.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-gateway-go/roles"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table Lookup reads from.
const Schema = `CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	doc     JSONB NOT NULL
)`

const lookupSQL = `SELECT doc FROM users WHERE user_id = $1 LIMIT 1`

// Store reads role documents from the users table.
type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

var _ roles.Store = (*Store)(nil)

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres roles: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres roles: ping: %w", err)
	}
	return &Store{pool: pool, owned: true}, nil
}

// NewWithPool wraps an existing pool. Close leaves the pool open.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the users table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres roles: ensure schema: %w", err)
	}
	return nil
}

// Put upserts principal's document.
func (s *Store) Put(ctx context.Context, principal string, doc roles.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres roles: encode document: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (user_id, doc) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET doc = EXCLUDED.doc`,
		principal, b)
	if err != nil {
		return fmt.Errorf("postgres roles: put %s: %w", principal, err)
	}
	return nil
}

// Lookup implements roles.Store.
func (s *Store) Lookup(ctx context.Context, principal string) (roles.Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, lookupSQL, principal).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, roles.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres roles: lookup %s: %w", principal, err)
	}

	var doc roles.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres roles: decode document for %s: %w", principal, err)
	}
	return doc, nil
}

// Close releases the pool if the Store opened it.
func (s *Store) Close() {
	if s.owned {
		s.pool.Close()
	}
}
