// health_handler.go -- Banner and dependency health endpoints.
package api

import (
	"errors"
	"net/http"

	"github.com/MGallo-Code/quill/internal/store"
)

// Banner handles GET /: a static liveness response.
func (h *Handler) Banner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}{"Quill Blog API", "healthy"})
}

// CheckHealth handles GET /health: pings Postgres and Redis, returns per-dependency status.
// Returns 200 if both are healthy (or Redis is disabled), 503 if either is down.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "ok"
	postgresStatus := "ok"

	if err := h.RS.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrCacheDisabled) {
			redisStatus = "disabled"
		} else {
			logError(r, "redis health check failed", "error", err)
			redisStatus = "error"
		}
	}
	if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r, "postgres health check failed", "error", err)
		postgresStatus = "error"
	}

	status := http.StatusOK
	if redisStatus == "error" || postgresStatus == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, struct {
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}{postgresStatus, redisStatus})
}
