package sessions_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := sessions.NewStore(sessions.WithClock(func() time.Time { return now }))

	a := s.Create("user-1", "app", "My App")
	b := s.Create("", "app", "")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, s.Count())

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, now, got.CreatedAt)
	assert.False(t, got.Anonymous())

	got, err = s.Get(b.ID)
	require.NoError(t, err)
	assert.True(t, got.Anonymous())
}

func TestGetUnknown(t *testing.T) {
	s := sessions.NewStore()
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	_, err = s.Get("")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestDelete(t *testing.T) {
	s := sessions.NewStore()
	sess := s.Create("u", "c", "")

	require.NoError(t, s.Delete(sess.ID))
	assert.ErrorIs(t, s.Delete(sess.ID), sessions.ErrSessionNotFound)
	_, err := s.Get(sess.ID)
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.Zero(t, s.Count())
}

func TestMaxAge(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := sessions.NewStore(
		sessions.WithMaxAge(time.Hour),
		sessions.WithClock(func() time.Time { return now }),
	)
	old := s.Create("u", "c", "")
	now = now.Add(30 * time.Minute)
	young := s.Create("u", "c", "")

	now = now.Add(30 * time.Minute)
	_, err := s.Get(old.ID)
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.Equal(t, 1, s.Count())

	_, err = s.Get(young.ID)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, s.Prune())
	assert.Zero(t, s.Count())
}

func TestConcurrentAccess(t *testing.T) {
	s := sessions.NewStore()
	var wg sync.WaitGroup
	ids := make(chan string, 100)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := s.Create("u", "c", "")
			_, err := s.Get(sess.ID)
			assert.NoError(t, err)
			ids <- sess.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, 100, s.Count())
}
