// user_handler.go -- Account endpoints for the authenticated user under /user.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/quill/internal/store"
	"github.com/gofrs/uuid/v5"
)

// GetProfile handles GET /user/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	profile, err := h.PS.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, profile)
}

// UpdateProfile handles PUT /user/profile. Name and email are each optional.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	var input struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	if input.Name != nil {
		if msg := ValidateName(*input.Name); msg != "" {
			BadRequest(w, msg)
			return
		}
	}
	if input.Email != nil {
		email := normalizeEmail(*input.Email)
		if msg := ValidateEmail(email); msg != "" {
			BadRequest(w, msg)
			return
		}
		input.Email = &email
	}

	profile, err := h.PS.UpdateProfile(r.Context(), userID, store.ProfileUpdate{Name: input.Name, Email: input.Email})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			logInfo(r, "profile update failed", "reason", "duplicate_email")
			BadRequest(w, "Email already in use")
		case errors.Is(err, store.ErrNotFound):
			NotFound(w, "User not found")
		default:
			InternalServerError(w, r, err)
		}
		return
	}

	logInfo(r, "profile updated")
	writeJSON(w, r, http.StatusOK, profile)
}

// ChangePassword handles PUT /user/password. Tokens issued before the change stop working;
// the response carries a fresh one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	var input struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	if input.CurrentPassword == "" {
		BadRequest(w, "Current password is required")
		return
	}
	if msg := ValidatePassword(input.NewPassword); msg != "" {
		BadRequest(w, msg)
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	if !h.waitKDF(w, r) {
		return
	}
	if !h.Hasher.Verify(input.CurrentPassword, user.PasswordHash) {
		logInfo(r, "password change failed", "reason", "bad_current_password")
		BadRequest(w, "Current password is incorrect")
		return
	}

	if !h.waitKDF(w, r) {
		return
	}
	hash, err := h.Hasher.Hash(input.NewPassword)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.PS.UpdateUserPassword(r.Context(), userID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	// The new token shares the watermark instant; only strictly older tokens are rejected.
	now := h.now()
	h.revokeTokens(r, userID, now)

	tok, err := h.Tokens.Issue(userID.String(), now)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "password changed")
	writeJSON(w, r, http.StatusOK, struct {
		Message string `json:"message"`
		Token   string `json:"token"`
	}{"Password updated successfully", tok})
}

// revokeTokens moves the user's revocation watermark to at.
// Failure is logged, not returned: the credential change itself already succeeded.
func (h *Handler) revokeTokens(r *http.Request, userID uuid.UUID, at time.Time) {
	if err := h.RS.SetTokensRevokedAt(r.Context(), userID, at, h.Tokens.TTL()); err != nil {
		logError(r, "failed to revoke tokens", "user_id", userID, "error", err)
	}
}

// ListUserPosts handles GET /user/blogs: the caller's posts, most recently updated first.
func (h *Handler) ListUserPosts(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	posts, err := h.PS.ListUserPosts(r.Context(), userID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if posts == nil {
		posts = []store.Post{}
	}
	writeJSON(w, r, http.StatusOK, struct {
		Blogs []store.Post `json:"blogs"`
		Count int          `json:"count"`
	}{posts, len(posts)})
}

// DeleteAccount handles DELETE /user/account. Posts go with the user (FK cascade).
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	if err := h.PS.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	h.revokeTokens(r, userID, h.now())

	logInfo(r, "account deleted")
	OK(w, "Account deleted successfully")
}
