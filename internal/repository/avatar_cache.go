package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvatarCache holds encoded avatar responses under {prefix}:{user_id} and
// {prefix}:{user_id}:{variant}.
type AvatarCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewAvatarCache(rdb *redis.Client, prefix string, ttl time.Duration) *AvatarCache {
	return &AvatarCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Key returns the cache key of one variant; an empty variant is the original.
func (c *AvatarCache) Key(userID, variant string) string {
	if variant == "" {
		return c.prefix + ":" + userID
	}
	return c.prefix + ":" + userID + ":" + variant
}

// Get returns (nil, nil) on a miss.
func (c *AvatarCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (c *AvatarCache) Set(ctx context.Context, key string, payload []byte) error {
	return c.rdb.Set(ctx, key, payload, c.ttl).Err()
}

// Flush drops every cached variant of userID's avatar.
func (c *AvatarCache) Flush(ctx context.Context, userID string) (int64, error) {
	keys := []string{c.Key(userID, "")}
	iter := c.rdb.Scan(ctx, 0, escapeGlob(c.Key(userID, ""))+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return c.rdb.Del(ctx, keys...).Result()
}
