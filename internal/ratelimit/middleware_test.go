package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusHandler answers every request with code.
func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type brokenLimiter struct{}

func (brokenLimiter) Take(context.Context, string, Policy, time.Time) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func (brokenLimiter) Refund(context.Context, string, time.Time) error {
	return errors.New("backend down")
}

func mustMiddleware(t *testing.T, opts Options) func(http.Handler) http.Handler {
	t.Helper()
	mw, err := Middleware(opts)
	require.NoError(t, err)
	return mw
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_ConstructionErrors(t *testing.T) {
	_, err := Middleware(Options{Policy: Policy{Window: time.Second, Max: 1}})
	assert.Error(t, err, "missing limiter")

	_, err = Middleware(Options{Policy: Policy{Window: 0, Max: 1}, Limiter: NewMemoryLimiter()})
	assert.Error(t, err, "zero window")

	_, err = Middleware(Options{Policy: Policy{Window: time.Second}, Limiter: NewMemoryLimiter()})
	assert.Error(t, err, "zero max")
}

func TestMiddleware_AllowsThenLimits(t *testing.T) {
	now := epoch
	h := mustMiddleware(t, Options{
		Name:    "test",
		Policy:  Policy{Window: time.Second, Max: 5},
		Limiter: NewMemoryLimiter(),
		Now:     fixedClock(now),
	})(statusHandler(http.StatusOK))

	reset := strconv.FormatInt(now.Add(time.Second).UnixMilli(), 10)
	for i := 1; i <= 5; i++ {
		w := doRequest(h, "203.0.113.7:5000")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(5-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, reset, w.Header().Get("X-RateLimit-Reset"))
	}

	w := doRequest(h, "203.0.113.7:5000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, reset, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "Too many requests", body.Message)
	assert.Equal(t, 1, body.RetryAfter)

	// A different client is unaffected.
	w = doRequest(h, "198.51.100.9:5000")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_SkipSuccessfulRequests(t *testing.T) {
	lim := NewMemoryLimiter()
	mw := mustMiddleware(t, Options{
		Name:                   "auth",
		Policy:                 Policy{Window: time.Minute, Max: 2},
		Limiter:                lim,
		SkipSuccessfulRequests: true,
		Now:                    fixedClock(epoch),
	})

	ok := mw(statusHandler(http.StatusOK))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doRequest(ok, "192.0.2.1:1").Code)
	}
	assert.Equal(t, 0, lim.Count("auth:192.0.2.1", epoch))

	// Failures still count.
	fail := mw(statusHandler(http.StatusUnauthorized))
	assert.Equal(t, http.StatusUnauthorized, doRequest(fail, "192.0.2.1:1").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(fail, "192.0.2.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(fail, "192.0.2.1:1").Code)
}

func TestMiddleware_SkipFailedRequests(t *testing.T) {
	lim := NewMemoryLimiter()
	mw := mustMiddleware(t, Options{
		Name:               "write",
		Policy:             Policy{Window: time.Minute, Max: 3},
		Limiter:            lim,
		SkipFailedRequests: true,
		Now:                fixedClock(epoch),
	})

	fail := mw(statusHandler(http.StatusBadRequest))
	doRequest(fail, "192.0.2.1:1")
	assert.Equal(t, 0, lim.Count("write:192.0.2.1", epoch))

	ok := mw(statusHandler(http.StatusCreated))
	doRequest(ok, "192.0.2.1:1")
	assert.Equal(t, 1, lim.Count("write:192.0.2.1", epoch))
}

func TestMiddleware_ImplicitOKCountsAsSuccess(t *testing.T) {
	lim := NewMemoryLimiter()
	h := mustMiddleware(t, Options{
		Policy:                 Policy{Window: time.Minute, Max: 1},
		Limiter:                lim,
		SkipSuccessfulRequests: true,
		Now:                    fixedClock(epoch),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no explicit WriteHeader"))
	}))

	doRequest(h, "192.0.2.1:1")
	assert.Equal(t, 0, lim.Count("192.0.2.1", epoch))
}

func TestMiddleware_FailsOpen(t *testing.T) {
	h := mustMiddleware(t, Options{
		Policy:  Policy{Window: time.Second, Max: 1},
		Limiter: brokenLimiter{},
	})(statusHandler(http.StatusOK))

	for i := 0; i < 3; i++ {
		w := doRequest(h, "192.0.2.1:1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMiddleware_Skip(t *testing.T) {
	lim := NewMemoryLimiter()
	bypass, err := ParseIPSet([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	h := mustMiddleware(t, Options{
		Policy:  Policy{Window: time.Minute, Max: 1},
		Limiter: lim,
		Skip:    func(r *http.Request) bool { return bypass.Contains(PeerIP(r)) },
		Now:     fixedClock(epoch),
	})(statusHandler(http.StatusOK))

	for i := 0; i < 3; i++ {
		w := doRequest(h, "10.1.2.3:80")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, 0, lim.Len())
}

func TestMiddleware_NamesSeparateCounters(t *testing.T) {
	lim := NewMemoryLimiter()
	policy := Policy{Window: time.Minute, Max: 1}
	a := mustMiddleware(t, Options{Name: "a", Policy: policy, Limiter: lim, Now: fixedClock(epoch)})(statusHandler(http.StatusOK))
	b := mustMiddleware(t, Options{Name: "b", Policy: policy, Limiter: lim, Now: fixedClock(epoch)})(statusHandler(http.StatusOK))

	assert.Equal(t, http.StatusOK, doRequest(a, "192.0.2.1:1").Code)
	assert.Equal(t, http.StatusOK, doRequest(b, "192.0.2.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(a, "192.0.2.1:1").Code)
}
