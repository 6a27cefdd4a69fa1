package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{Window: time.Second, Max: 1}.Validate())
	assert.Error(t, Policy{Window: 0, Max: 1}.Validate())
	assert.Error(t, Policy{Window: time.Second, Max: 0}.Validate())
	assert.Error(t, Policy{Window: -time.Second, Max: -1}.Validate())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(epoch.Add(time.Second), epoch))
	assert.Equal(t, 1, retryAfterSeconds(epoch.Add(time.Millisecond), epoch))
	assert.Equal(t, 2, retryAfterSeconds(epoch.Add(1001*time.Millisecond), epoch))
	assert.Equal(t, 0, retryAfterSeconds(epoch, epoch))
	assert.Equal(t, 0, retryAfterSeconds(epoch, epoch.Add(time.Second)))
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Second, Max: 5}

	for i := 1; i <= 5; i++ {
		dec, err := m.Take(ctx, "a", policy, epoch.Add(time.Duration(i)*10*time.Millisecond))
		require.NoError(t, err)
		assert.True(t, dec.Allowed, "call %d", i)
		assert.Equal(t, 5-i, dec.Remaining)
		assert.Equal(t, 5, dec.Limit)
		assert.Equal(t, epoch.Add(10*time.Millisecond+time.Second), dec.ResetAt)
	}

	dec, err := m.Take(ctx, "a", policy, epoch.Add(100*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)
	assert.LessOrEqual(t, dec.RetryAfter, 1)
	assert.GreaterOrEqual(t, dec.RetryAfter, 1)

	// Past the reset time the window is replaced and counting restarts at 1.
	dec, err = m.Take(ctx, "a", policy, epoch.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 4, dec.Remaining)
	assert.Equal(t, 1, m.Count("a", epoch.Add(2*time.Second)))
}

func TestMemoryLimiter_ResetBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Second, Max: 1}

	_, err := m.Take(ctx, "k", policy, epoch)
	require.NoError(t, err)

	dec, err := m.Take(ctx, "k", policy, epoch.Add(999*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	dec, err = m.Take(ctx, "k", policy, epoch.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "now == resetAt opens a new window")
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Minute, Max: 2}

	for i := 0; i < 3; i++ {
		_, err := m.Take(ctx, "a", policy, epoch)
		require.NoError(t, err)
	}
	dec, err := m.Take(ctx, "a", policy, epoch)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	dec, err = m.Take(ctx, "b", policy, epoch)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 1, dec.Remaining)
}

func TestMemoryLimiter_Refund(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Minute, Max: 3}

	dec, err := m.Take(ctx, "k", policy, epoch)
	require.NoError(t, err)
	require.Equal(t, 1, m.Count("k", epoch))

	require.NoError(t, m.Refund(ctx, "k", dec.ResetAt))
	assert.Equal(t, 0, m.Count("k", epoch))

	// Floored at zero.
	require.NoError(t, m.Refund(ctx, "k", dec.ResetAt))
	assert.Equal(t, 0, m.Count("k", epoch))

	// Unknown key is a no-op.
	assert.NoError(t, m.Refund(ctx, "missing", dec.ResetAt))
}

func TestMemoryLimiter_RefundIgnoresReplacedWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Second, Max: 3}

	old, err := m.Take(ctx, "k", policy, epoch)
	require.NoError(t, err)

	later := epoch.Add(2 * time.Second)
	_, err = m.Take(ctx, "k", policy, later)
	require.NoError(t, err)

	require.NoError(t, m.Refund(ctx, "k", old.ResetAt))
	assert.Equal(t, 1, m.Count("k", later), "refund for an old window must not touch the new one")
}

func TestMemoryLimiter_Expire(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Second, Max: 3}

	_, err := m.Take(ctx, "old", policy, epoch)
	require.NoError(t, err)
	_, err = m.Take(ctx, "fresh", policy, epoch.Add(1500*time.Millisecond))
	require.NoError(t, err)

	// "old" reset at epoch+1s; it is collectable once now-window >= that.
	assert.Equal(t, 0, m.Expire(epoch.Add(1999*time.Millisecond)))
	assert.Equal(t, 1, m.Expire(epoch.Add(2*time.Second)))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, m.Count("fresh", epoch.Add(2*time.Second)))
}

func TestMemoryLimiter_TakeSweepsOpportunistically(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Second, Max: 3}

	for _, k := range []string{"a", "b", "c"} {
		_, err := m.Take(ctx, k, policy, epoch)
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Len())

	_, err := m.Take(ctx, "d", policy, epoch.Add(DefaultSweepEvery+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryLimiter_ConcurrentTakesNeverLoseUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter()
	policy := Policy{Window: time.Hour, Max: 500}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				dec, err := m.Take(ctx, "shared", policy, epoch)
				if err == nil && dec.Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(500), allowed.Load())
	assert.Equal(t, 500, m.Count("shared", epoch))
}

func TestMemoryLimiter_StartJanitor(t *testing.T) {
	m := NewMemoryLimiter()
	_, err := m.Take(context.Background(), "k", Policy{Window: time.Millisecond, Max: 1}, time.Now().Add(-time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}
