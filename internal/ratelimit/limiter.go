// Package ratelimit implements fixed-window request throttling.
//
// limiter.go -- policy, decision, and the Limiter contract shared by backends.
//
// A window opens on the first request for a key and lasts Policy.Window. Up to
// Policy.Max requests are admitted inside it; the next request after the window's
// reset time opens a fresh one. Because windows are fixed rather than sliding, a
// burst straddling a reset can admit up to 2*Max requests in a short span.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Policy bounds requests per key per window.
type Policy struct {
	Window time.Duration
	Max    int
}

// Validate rejects policies that would disable or break limiting.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	if p.Max <= 0 {
		return errors.New("ratelimit: max must be positive")
	}
	return nil
}

// Decision is the outcome of a single check-and-increment.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until ResetAt, rounded up. Zero when Allowed.
	RetryAfter int
}

// Limiter performs check-and-increment and refunds against a shared counter table.
// Implementations own all synchronisation; callers never see the table.
type Limiter interface {
	// Take opens a window for key if none is active at now, then either
	// consumes one unit of quota or reports the key as limited.
	Take(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error)

	// Refund returns one unit to key, floored at zero. It is a no-op unless the
	// key's active window is still the one that reset at resetAt.
	Refund(ctx context.Context, key string, resetAt time.Time) error
}

// decide builds a Decision from a post-increment count.
func decide(allowed bool, count int, policy Policy, resetAt, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     policy.Max,
		Remaining: max(0, policy.Max-count),
		ResetAt:   resetAt,
	}
	if !allowed {
		d.Remaining = 0
		d.RetryAfter = retryAfterSeconds(resetAt, now)
	}
	return d
}

// retryAfterSeconds returns ceil((resetAt-now)/1s), never negative.
func retryAfterSeconds(resetAt, now time.Time) int {
	wait := resetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}
