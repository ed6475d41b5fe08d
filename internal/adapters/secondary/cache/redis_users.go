package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

const DefaultUserTTL = 10 * time.Minute

// UserStore est la source de vérité des profils (Postgres).
type UserStore interface {
	ports.UserLookup
	UpsertUser(ctx context.Context, a domain.Author) error
}

// RedisUserCache met en cache les lookups d'auteurs (read-through).
// Une panne Redis dégrade vers la source, jamais vers une erreur.
type RedisUserCache struct {
	client *redis.Client
	store  UserStore
	ttl    time.Duration
}

var _ UserStore = (*RedisUserCache)(nil)

func NewRedisUserCache(client *redis.Client, store UserStore, ttl time.Duration) *RedisUserCache {
	if ttl <= 0 {
		ttl = DefaultUserTTL
	}
	return &RedisUserCache{client: client, store: store, ttl: ttl}
}

func userKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func (c *RedisUserCache) GetUser(ctx context.Context, userID string) (*domain.Author, error) {
	raw, err := c.client.Get(ctx, userKey(userID)).Bytes()
	switch {
	case err == nil:
		var a domain.Author
		if json.Unmarshal(raw, &a) == nil {
			return &a, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("Redis user cache unavailable", "user_id", userID, "error", err)
	}

	a, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		if err := c.client.Set(ctx, userKey(userID), data, c.ttl).Err(); err != nil {
			slog.Warn("Redis user cache write failed", "user_id", userID, "error", err)
		}
	}
	return a, nil
}

// UpsertUser écrit dans la source puis invalide l'entrée.
func (c *RedisUserCache) UpsertUser(ctx context.Context, a domain.Author) error {
	if err := c.store.UpsertUser(ctx, a); err != nil {
		return err
	}
	if err := c.client.Del(ctx, userKey(a.ID)).Err(); err != nil {
		slog.Warn("Redis user cache invalidation failed", "user_id", a.ID, "error", err)
	}
	return nil
}
