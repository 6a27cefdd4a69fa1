package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// newTestRedisStore runs an in-process Redis for one test.
func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, mr
}

// --- Revocation watermark ---

func TestTokensRevokedAt(t *testing.T) {
	ctx := context.Background()

	t.Run("zero time when nothing is revoked", func(t *testing.T) {
		rs, _ := newTestRedisStore(t)
		userID, _ := uuid.NewV7()

		got, err := rs.TokensRevokedAt(ctx, userID)
		if err != nil {
			t.Fatalf("TokensRevokedAt: %v", err)
		}
		if !got.IsZero() {
			t.Errorf("expected zero time, got %v", got)
		}
	})

	t.Run("round-trips with millisecond precision and expires", func(t *testing.T) {
		rs, mr := newTestRedisStore(t)
		userID, _ := uuid.NewV7()
		at := time.Date(2026, 5, 1, 8, 30, 0, 456_000_000, time.UTC)

		if err := rs.SetTokensRevokedAt(ctx, userID, at, time.Hour); err != nil {
			t.Fatalf("SetTokensRevokedAt: %v", err)
		}

		got, err := rs.TokensRevokedAt(ctx, userID)
		if err != nil {
			t.Fatalf("TokensRevokedAt: %v", err)
		}
		if !got.Equal(at) {
			t.Errorf("expected %v, got %v", at, got)
		}
		if ttl := mr.TTL("revoked:" + userID.String()); ttl != time.Hour {
			t.Errorf("TTL: expected 1h, got %v", ttl)
		}

		mr.FastForward(time.Hour + time.Second)
		got, err = rs.TokensRevokedAt(ctx, userID)
		if err != nil {
			t.Fatalf("TokensRevokedAt after expiry: %v", err)
		}
		if !got.IsZero() {
			t.Errorf("expected watermark to expire, got %v", got)
		}
	})

	t.Run("corrupt value is an error", func(t *testing.T) {
		rs, mr := newTestRedisStore(t)
		userID, _ := uuid.NewV7()
		mr.Set("revoked:"+userID.String(), "not-a-number")

		if _, err := rs.TokensRevokedAt(ctx, userID); err == nil {
			t.Fatal("expected parse error, got nil")
		}
	})

	t.Run("backend failure is an error", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rs := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { rs.Close() })
		mr.Close()

		userID, _ := uuid.NewV7()
		if _, err := rs.TokensRevokedAt(ctx, userID); err == nil {
			t.Fatal("expected error from closed redis, got nil")
		}
		if err := rs.CheckHealth(ctx); err == nil {
			t.Fatal("expected health check failure, got nil")
		}
	})
}

func TestNewRedisStore(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}

	rs, _ := newTestRedisStore(t)
	if err := rs.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if rs.Client() == nil {
		t.Fatal("Client returned nil")
	}
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	var c NoopCache
	userID, _ := uuid.NewV7()

	if err := c.CheckHealth(ctx); !errors.Is(err, ErrCacheDisabled) {
		t.Fatalf("expected ErrCacheDisabled, got %v", err)
	}
	if err := c.SetTokensRevokedAt(ctx, userID, time.Now(), time.Hour); err != nil {
		t.Fatalf("SetTokensRevokedAt: %v", err)
	}
	got, err := c.TokensRevokedAt(ctx, userID)
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero time and nil error, got %v, %v", got, err)
	}
}
