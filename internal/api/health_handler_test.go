// health_handler_test.go

// unit tests for Banner and CheckHealth.

package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MGallo-Code/quill/internal/store"
)

func TestBanner(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.Banner(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Body.String(); got != `{"message":"Quill Blog API","status":"healthy"}` {
		t.Errorf("banner: got %s", got)
	}
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		pgErr    error
		redisErr error
		status   int
		body     string
	}{
		{"both healthy", nil, nil, http.StatusOK, `{"postgres":"ok","redis":"ok"}`},
		{"redis disabled", nil, store.ErrCacheDisabled, http.StatusOK, `{"postgres":"ok","redis":"disabled"}`},
		{"redis down", nil, errors.New("refused"), http.StatusServiceUnavailable, `{"postgres":"ok","redis":"error"}`},
		{"postgres down", errors.New("refused"), nil, http.StatusServiceUnavailable, `{"postgres":"error","redis":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ps, rs := newTestHandler(t)
			ps.HealthErr = tt.pgErr
			rs.HealthErr = tt.redisErr

			w := httptest.NewRecorder()
			h.CheckHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.status {
				t.Errorf("status: expected %d, got %d", tt.status, w.Code)
			}
			if got := w.Body.String(); got != tt.body {
				t.Errorf("body: expected %s, got %s", tt.body, got)
			}
		})
	}
}
