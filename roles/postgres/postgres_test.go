package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "pg-alice", roles.Document{"roles": []string{"admin"}, "email": "a@example.com"}))

	doc, err := s.Lookup(ctx, "pg-alice")
	require.NoError(t, err)
	got, ok := roles.Extract(doc)
	assert.True(t, ok)
	assert.Equal(t, []string{"admin"}, got)

	_, err = s.Lookup(ctx, "pg-nobody")
	assert.ErrorIs(t, err, roles.ErrNotFound)
}

func TestResolverOverPostgres(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "pg-bob", roles.Document{"roles": "admin"}))

	r := roles.NewResolver(roles.WithStore(s))
	assert.Empty(t, r.GetRoles(ctx, "pg-bob"))
	assert.Equal(t, []string{roles.DefaultRole}, r.GetRoles(ctx, "pg-carol"))
}
