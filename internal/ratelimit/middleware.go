// middleware.go -- HTTP wrapper around a Limiter.
package ratelimit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Options configures Middleware.
type Options struct {
	// Name prefixes every key so policies sharing one Limiter never share counters.
	Name    string
	Policy  Policy
	Limiter Limiter

	// KeyFunc defaults to ClientIP(nil): the direct peer address.
	KeyFunc KeyFunc

	// SkipSuccessfulRequests refunds requests answered with status < 400.
	SkipSuccessfulRequests bool
	// SkipFailedRequests refunds requests answered with status >= 400.
	SkipFailedRequests bool

	// Skip exempts matching requests entirely (no headers, no counting).
	Skip func(r *http.Request) bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Middleware returns a chi-compatible middleware enforcing opts.
// Invalid options fail here, at construction, never per request.
func Middleware(opts Options) (func(http.Handler) http.Handler, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Limiter == nil {
		return nil, errors.New("ratelimit: limiter is required")
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = ClientIP(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	prefix := ""
	if opts.Name != "" {
		prefix = opts.Name + ":"
	}
	limit := strconv.Itoa(opts.Policy.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := prefix + opts.KeyFunc(r)
			now := opts.Now()

			dec, err := opts.Limiter.Take(r.Context(), key, opts.Policy, now)
			if err != nil {
				// Throttling is advisory; a broken backend must not take the API down.
				slog.Warn("rate limiter unavailable, allowing request", "policy", opts.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.UnixMilli(), 10))

			if !dec.Allowed {
				slog.Info("rate limited", "policy", opts.Name, "key", key, "retry_after", dec.RetryAfter,
					"method", r.Method, "path", r.URL.Path)
				writeLimited(w, dec.RetryAfter)
				return
			}

			if !opts.SkipSuccessfulRequests && !opts.SkipFailedRequests {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if (opts.SkipSuccessfulRequests && status < 400) || (opts.SkipFailedRequests && status >= 400) {
				if err := opts.Limiter.Refund(r.Context(), key, dec.ResetAt); err != nil {
					slog.Warn("rate limit refund failed", "policy", opts.Name, "error", err)
				}
			}
		})
	}, nil
}

// writeLimited writes the 429 body; rate-limit headers are already set.
func writeLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(struct {
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}{"Too many requests", retryAfter})
}
