package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables read by document_query and resource_list.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         BIGSERIAL PRIMARY KEY,
	collection TEXT  NOT NULL,
	tenant_id  TEXT  NOT NULL,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_tenant_idx ON documents (collection, tenant_id);
CREATE TABLE IF NOT EXISTS resources (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL,
	location       TEXT NOT NULL,
	resource_group TEXT
);`

// postgresSource serves documents and resources from PostgreSQL. One
// source is shared by every tool that reads the database; the pool opens on
// the first Open and closes when the last holder calls Close. A source with
// an empty DSN stays closed and reports ErrNotConfigured.
type postgresSource struct {
	dsn string

	mu   sync.RWMutex
	refs int
	pool *pgxpool.Pool
}

func newPostgresSource(dsn string) *postgresSource {
	return &postgresSource{dsn: dsn}
}

func (s *postgresSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" || s.pool != nil {
		s.refs++
		return nil
	}
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres: ping: %w", err)
	}
	s.pool = pool
	s.refs++
	return nil
}

func (s *postgresSource) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return nil
	}
	s.refs--
	if s.refs == 0 && s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *postgresSource) acquire() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *postgresSource) QueryDocuments(ctx context.Context, q DocumentQuery) ([]map[string]any, error) {
	pool, err := s.acquire()
	if err != nil {
		return nil, err
	}

	filter := q.Filter
	if filter == nil {
		filter = map[string]any{}
	}
	fb, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}

	rows, err := pool.Query(ctx,
		`SELECT doc FROM documents
		 WHERE collection = $1 AND tenant_id = $2 AND doc @> $3::jsonb
		 ORDER BY id LIMIT $4`,
		q.Collection, q.TenantID, string(fb), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (map[string]any, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	return items, nil
}

func (s *postgresSource) ListResources(ctx context.Context, q ResourceQuery) ([]Resource, error) {
	pool, err := s.acquire()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT id, name, type, location, resource_group FROM resources
		 WHERE ($1 = '' OR resource_group = $1) AND ($2 = '' OR type = $2)
		 ORDER BY name`,
		q.ResourceGroup, q.ResourceType)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}

	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Resource, error) {
		var r Resource
		err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Location, &r.ResourceGroup)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("read resources: %w", err)
	}
	return res, nil
}
