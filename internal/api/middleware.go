// middleware.go -- Bearer token authentication middleware.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext retrieves authenticated user's ID from context.
// Returns zero UUID and false if RequireAuth hasn't run.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// UserKey reports the authenticated user ID for rate-limit keying.
func UserKey(r *http.Request) (string, bool) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		return "", false
	}
	return id.String(), true
}

// RequireAuth validates the Authorization bearer token and the user's revocation watermark.
// Missing credentials get 401; a token that fails verification or predates the watermark gets 403.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, raw, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			logWarn(r, "require auth failed", "reason", "missing_bearer")
			Unauthorized(w, "Unauthorized")
			return
		}

		claims, err := h.Tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			logWarn(r, "require auth failed", "reason", "invalid_token", "error", err)
			Forbidden(w, "Error while authorizing")
			return
		}

		userID, err := uuid.FromString(claims.UserID)
		if err != nil {
			logWarn(r, "require auth failed", "reason", "invalid_subject")
			Forbidden(w, "Error while authorizing")
			return
		}

		// Tokens issued strictly before the watermark are revoked.
		revokedAt, err := h.RS.TokensRevokedAt(r.Context(), userID)
		if err != nil {
			// Revocation is best-effort; a cache outage must not lock every user out.
			logError(r, "revocation lookup failed, allowing token", "user_id", userID, "error", err)
		} else if !revokedAt.IsZero() && claims.IssuedAt.Before(revokedAt) {
			logInfo(r, "require auth failed", "reason", "token_revoked", "user_id", userID)
			Forbidden(w, "Error while authorizing")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// mustUserID pulls the authenticated user from context. Writes a 401 and returns false
// if the route was mounted without RequireAuth.
func mustUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		logError(r, "handler reached without authenticated user", "error", errors.New("missing user id in context"))
		Unauthorized(w, "Unauthorized")
		return uuid.Nil, false
	}
	return id, true
}
