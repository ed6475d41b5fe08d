package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

type memoryStore struct {
	users    map[string]domain.Author
	lookups  int
	upserted []domain.Author
}

func (s *memoryStore) GetUser(ctx context.Context, userID string) (*domain.Author, error) {
	s.lookups++
	a, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrLookupFailed
	}
	return &a, nil
}

func (s *memoryStore) UpsertUser(ctx context.Context, a domain.Author) error {
	s.upserted = append(s.upserted, a)
	s.users[a.ID] = a
	return nil
}

// Client vers un port fermé: chaque commande échoue immédiatement.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisUserCache_FallsBackWhenRedisIsDown(t *testing.T) {
	store := &memoryStore{users: map[string]domain.Author{"bob": {ID: "bob", Name: "Bob"}}}
	c := NewRedisUserCache(unreachableRedis(t), store, 0)

	a, err := c.GetUser(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", a.Name)
	assert.Equal(t, 1, store.lookups)
}

func TestRedisUserCache_PropagatesStoreErrors(t *testing.T) {
	store := &memoryStore{users: map[string]domain.Author{}}
	c := NewRedisUserCache(unreachableRedis(t), store, time.Minute)

	_, err := c.GetUser(t.Context(), "ghost")
	assert.True(t, errors.Is(err, domain.ErrLookupFailed))
}

func TestRedisUserCache_UpsertWritesThrough(t *testing.T) {
	store := &memoryStore{users: map[string]domain.Author{}}
	c := NewRedisUserCache(unreachableRedis(t), store, time.Minute)

	require.NoError(t, c.UpsertUser(t.Context(), domain.Author{ID: "carol", Name: "Carol"}))
	assert.Equal(t, []domain.Author{{ID: "carol", Name: "Carol"}}, store.upserted)
}

func TestUserKey(t *testing.T) {
	assert.Equal(t, "user:alice", userKey("alice"))
}
