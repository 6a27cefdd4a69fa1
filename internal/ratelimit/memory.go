// memory.go -- in-process fixed-window table.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepEvery is how often Take opportunistically drops expired windows.
const DefaultSweepEvery = time.Minute

type window struct {
	count   int
	resetAt time.Time
	length  time.Duration
}

// MemoryLimiter keeps one window per key in process memory.
// A single mutex covers every read-modify-write, including refunds.
type MemoryLimiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	sweepEvery time.Duration
	nextSweep  time.Time
}

// NewMemoryLimiter returns an empty table.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows:    make(map[string]*window),
		sweepEvery: DefaultSweepEvery,
	}
}

// Take implements Limiter.
func (m *MemoryLimiter) Take(_ context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !now.Before(m.nextSweep) {
		m.expireLocked(now)
		m.nextSweep = now.Add(m.sweepEvery)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		// Replace, never reset in place: a refund still holding the old reset time must miss.
		w = &window{resetAt: now.Add(policy.Window), length: policy.Window}
		m.windows[key] = w
	}

	if w.count >= policy.Max {
		return decide(false, w.count, policy, w.resetAt, now), nil
	}
	w.count++
	return decide(true, w.count, policy, w.resetAt, now), nil
}

// Refund implements Limiter.
func (m *MemoryLimiter) Refund(_ context.Context, key string, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !w.resetAt.Equal(resetAt) {
		return nil
	}
	if w.count > 0 {
		w.count--
	}
	return nil
}

// Count returns the units consumed in key's active window at now.
func (m *MemoryLimiter) Count(key string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return 0
	}
	return w.count
}

// Len returns the number of tracked keys, expired or not.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Expire drops every window whose reset time is at least one full window in the past.
// Returns the number of keys removed.
func (m *MemoryLimiter) Expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expireLocked(now)
}

func (m *MemoryLimiter) expireLocked(now time.Time) int {
	removed := 0
	for key, w := range m.windows {
		if !w.resetAt.After(now.Add(-w.length)) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

// StartJanitor expires windows every interval until ctx is cancelled.
// Take already sweeps opportunistically; the janitor bounds memory for keys that go quiet.
func (m *MemoryLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := m.Expire(now); n > 0 {
					slog.Debug("rate limit windows expired", "removed", n)
				}
			}
		}
	}()
}
