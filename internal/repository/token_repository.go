package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const liveTokenPrefix = "userId:"

// TokenRepo tracks the live session tokens of each user as a Redis set at
// userId:{user_id}. A token is accepted only while it is a member; deleting
// the set revokes every session of the user at once.
type TokenRepo struct {
	rdb *redis.Client
}

func NewTokenRepo(rdb *redis.Client) *TokenRepo { return &TokenRepo{rdb: rdb} }

func liveTokenKey(userID string) string { return liveTokenPrefix + userID }

// Add stores token and refreshes the set TTL in one transaction.
func (r *TokenRepo) Add(ctx context.Context, userID, token string, ttl time.Duration) error {
	key := liveTokenKey(userID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, token)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// IsLive reports whether token is still in the user's set.
func (r *TokenRepo) IsLive(ctx context.Context, userID, token string) (bool, error) {
	return r.rdb.SIsMember(ctx, liveTokenKey(userID), token).Result()
}

// List returns every live token of the user.
func (r *TokenRepo) List(ctx context.Context, userID string) ([]string, error) {
	return r.rdb.SMembers(ctx, liveTokenKey(userID)).Result()
}

// Touch slides the set TTL forward.
func (r *TokenRepo) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, liveTokenKey(userID), ttl).Err()
}

// RevokeAll deletes the whole set.
func (r *TokenRepo) RevokeAll(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, liveTokenKey(userID)).Err()
}
