// redis.go -- go-redis client for the token revocation watermark.
//
// Bearer tokens are stateless, so "log out everywhere" is expressed as a per-user
// timestamp: any token issued strictly before it is rejected. Keys expire after the
// token lifetime, when every token they could reject has expired on its own.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// RedisStore wraps a Redis client for revocation state.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and returns a ready-to-use cache store.
// It pings Redis to verify connectivity before returning.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return &RedisStore{rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb}
}

// Client exposes the underlying client so other components (the shared rate limiter) reuse the pool.
func (s *RedisStore) Client() *redis.Client {
	return s.rdb
}

// Close shuts down the Redis client and releases all resources.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func revokedKey(userID uuid.UUID) string {
	return fmt.Sprintf("revoked:%s", userID)
}

// SetTokensRevokedAt rejects every token for userID issued strictly before at;
// a token issued at exactly at stays valid.
// The key lives for ttl, which should be the token lifetime.
func (s *RedisStore) SetTokensRevokedAt(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, revokedKey(userID), at.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("setting revocation watermark: %w", err)
	}
	return nil
}

// TokensRevokedAt returns the user's revocation watermark, or the zero time if none is set.
func (s *RedisStore) TokensRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	raw, err := s.rdb.Get(ctx, revokedKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching revocation watermark: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing revocation watermark: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// NoopCache stands in for RedisStore when REDIS_URL is unset.
// Nothing is ever revoked; tokens stay valid until they expire.
type NoopCache struct{}

// CheckHealth always reports ErrCacheDisabled.
func (NoopCache) CheckHealth(context.Context) error { return ErrCacheDisabled }

// SetTokensRevokedAt is a no-op.
func (NoopCache) SetTokensRevokedAt(context.Context, uuid.UUID, time.Time, time.Duration) error {
	return nil
}

// TokensRevokedAt always returns the zero time.
func (NoopCache) TokensRevokedAt(context.Context, uuid.UUID) (time.Time, error) {
	return time.Time{}, nil
}
