package redis

import (
	"context"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/roles"
	"github.com/redis/go-redis/v9"
)

func TestRedisRoleStore(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3, // Use separate DB for role tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(ctx)

	s, err := New(Config{Client: client})
	if err != nil {
		t.Fatalf("Failed to create Redis role store: %v", err)
	}

	t.Run("Found", func(t *testing.T) {
		if err := s.Put(ctx, "alice", roles.Document{"roles": []string{"admin", "developer"}}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		doc, err := s.Lookup(ctx, "alice")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		got, ok := roles.Extract(doc)
		if !ok || len(got) != 2 || got[0] != "admin" || got[1] != "developer" {
			t.Fatalf("unexpected roles %v (ok=%v)", got, ok)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := s.Lookup(ctx, "nobody"); err != roles.ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, "alice"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Lookup(ctx, "alice"); err != roles.ErrNotFound {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}
