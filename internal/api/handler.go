// handler.go -- Handler dependencies and the /auth/* endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MGallo-Code/quill/internal/captcha"
	"github.com/MGallo-Code/quill/internal/store"
	"github.com/MGallo-Code/quill/internal/token"
	"github.com/gofrs/uuid/v5"
)

// Store defines database operations needed by the handlers.
// Satisfied by *store.PostgresStore.
type Store interface {
	CheckHealth(ctx context.Context) error

	CreateUser(ctx context.Context, id uuid.UUID, name, email, passwordHash string) error
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*store.Profile, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd store.ProfileUpdate) (*store.Profile, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	CreatePost(ctx context.Context, np store.NewPost) (*store.Post, error)
	GetPost(ctx context.Context, id uuid.UUID) (*store.Post, error)
	GetPublishedPost(ctx context.Context, id uuid.UUID) (*store.Post, error)
	UpdatePost(ctx context.Context, id, authorID uuid.UUID, upd store.PostUpdate) (*store.Post, error)
	DeletePost(ctx context.Context, id, authorID uuid.UUID) error
	ListPublishedPosts(ctx context.Context, params store.PostListParams) ([]store.Post, int, error)
	ListAuthorPublishedPosts(ctx context.Context, authorID uuid.UUID) (*store.Author, []store.Post, error)
	ListUserPosts(ctx context.Context, userID uuid.UUID) ([]store.Post, error)
	PopularTags(ctx context.Context, limit int) ([]store.TagCount, int, error)
}

// Cache defines the revocation state needed by RequireAuth and the account handlers.
// Satisfied by *store.RedisStore and store.NoopCache.
type Cache interface {
	CheckHealth(ctx context.Context) error
	SetTokensRevokedAt(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error
	TokensRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, error)
}

// PasswordHasher derives and checks stored credentials. Satisfied by *password.Hasher.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, stored string) bool
	NeedsRehash(stored string) bool
	Placeholder(password string) string
}

// TokenIssuer mints and verifies bearer tokens. Satisfied by *token.Issuer.
type TokenIssuer interface {
	Issue(userID string, now time.Time) (string, error)
	Parse(raw string) (*token.Claims, error)
	TTL() time.Duration
}

// CaptchaVerifier checks a signup captcha. Satisfied by *captcha.TurnstileVerifier.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// KDFGate throttles password derivations process-wide. Satisfied by *rate.Limiter.
type KDFGate interface {
	Wait(ctx context.Context) error
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for every HTTP handler and middleware.
type Handler struct {
	PS      Store
	RS      Cache
	Hasher  PasswordHasher
	Tokens  TokenIssuer
	Captcha CaptchaVerifier // nil disables the signup check
	KDF     KDFGate         // nil disables throttling

	// ClientIP resolves the caller address passed to the captcha check. Defaults to RemoteAddr.
	ClientIP func(r *http.Request) string
	// Now defaults to time.Now.
	Now func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// dummy returns a stored value at the configured cost, verified against when the user
// doesn't exist so both sign-in paths do the same amount of work.
func (h *Handler) dummy() string {
	h.dummyOnce.Do(func() {
		h.dummyHash = h.Hasher.Placeholder("quill-dummy-password")
	})
	return h.dummyHash
}

// decodeJSON reads a size-capped JSON body into dst. Writes a 400 and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, "error decoding request body")
		return false
	}
	return true
}

// waitKDF blocks until the KDF gate admits one derivation. Writes a 503 and returns false
// when the request context ends first.
func (h *Handler) waitKDF(w http.ResponseWriter, r *http.Request) bool {
	if h.KDF == nil {
		return true
	}
	if err := h.KDF.Wait(r.Context()); err != nil {
		logWarn(r, "password derivation throttled", "error", err)
		ServiceUnavailable(w, "server busy, try again shortly")
		return false
	}
	return true
}

// issueToken mints a token for userID or writes a 500.
func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (string, bool) {
	tok, err := h.Tokens.Issue(userID.String(), h.now())
	if err != nil {
		InternalServerError(w, r, err)
		return "", false
	}
	return tok, true
}

// Signup handles POST /auth/signup: name, email and password registration.
// Returns 201 with a token, 400 for validation errors or a taken email, 500 for server errors.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		CaptchaToken string `json:"captchaToken"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	email := normalizeEmail(input.Email)
	if msg := ValidateName(input.Name); msg != "" {
		BadRequest(w, msg)
		return
	}
	if msg := ValidateEmail(email); msg != "" {
		BadRequest(w, msg)
		return
	}
	if msg := ValidatePassword(input.Password); msg != "" {
		BadRequest(w, msg)
		return
	}

	if h.Captcha != nil {
		ip := r.RemoteAddr
		if h.ClientIP != nil {
			ip = h.ClientIP(r)
		}
		if err := h.Captcha.Verify(r.Context(), input.CaptchaToken, ip); err != nil {
			if errors.Is(err, captcha.ErrRejected) || errors.Is(err, captcha.ErrMissingToken) {
				logInfo(r, "signup failed", "reason", "captcha", "error", err)
				BadRequest(w, "Captcha verification failed")
				return
			}
			logError(r, "captcha verification unavailable", "error", err)
			ServiceUnavailable(w, "captcha verification unavailable")
			return
		}
	}

	if !h.waitKDF(w, r) {
		return
	}
	hash, err := h.Hasher.Hash(input.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	userID, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if err := h.PS.CreateUser(r.Context(), userID, input.Name, email, hash); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			logInfo(r, "signup failed", "reason", "duplicate_email")
			BadRequest(w, "User already exists.")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	tok, ok := h.issueToken(w, r, userID)
	if !ok {
		return
	}

	logInfo(r, "user registered", "user_id", userID)
	writeJSON(w, r, http.StatusCreated, struct {
		Message string `json:"message"`
		Token   string `json:"token"`
	}{"User created successfully", tok})
}

// Signin handles POST /auth/signin: email and password authentication.
// Unknown email and wrong password both return the same 401.
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	email := normalizeEmail(input.Email)
	if msg := ValidateEmail(email); msg != "" {
		BadRequest(w, msg)
		return
	}
	if input.Password == "" {
		BadRequest(w, "Password is required")
		return
	}
	if len(input.Password) > maxPasswordBytes {
		Unauthorized(w, "Invalid email or password.")
		return
	}

	if !h.waitKDF(w, r) {
		return
	}

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			InternalServerError(w, r, err)
			return
		}
		h.Hasher.Verify(input.Password, h.dummy())
		logInfo(r, "signin failed", "reason", "unknown_email")
		Unauthorized(w, "Invalid email or password.")
		return
	}

	if !h.Hasher.Verify(input.Password, user.PasswordHash) {
		logInfo(r, "signin failed", "reason", "bad_password", "user_id", user.ID)
		Unauthorized(w, "Invalid email or password.")
		return
	}

	if h.Hasher.NeedsRehash(user.PasswordHash) {
		h.rehash(r, user.ID, input.Password)
	}

	tok, ok := h.issueToken(w, r, user.ID)
	if !ok {
		return
	}

	logInfo(r, "user signed in", "user_id", user.ID)
	writeJSON(w, r, http.StatusOK, struct {
		Message string `json:"message"`
		Name    string `json:"name"`
		Token   string `json:"token"`
	}{"User signed in successfully", user.Name, tok})
}

// rehash rewrites a credential stored at an old cost. The extra derivation goes through
// the KDF gate; when the gate refuses, the upgrade waits for a later sign-in.
// Failure here must not block sign-in.
func (h *Handler) rehash(r *http.Request, userID uuid.UUID, pw string) {
	if h.KDF != nil {
		if err := h.KDF.Wait(r.Context()); err != nil {
			logDebug(r, "rehash deferred", "user_id", userID, "error", err)
			return
		}
	}
	hash, err := h.Hasher.Hash(pw)
	if err != nil {
		logWarn(r, "rehash failed", "user_id", userID, "error", err)
		return
	}
	if err := h.PS.UpdateUserPassword(r.Context(), userID, hash); err != nil {
		logWarn(r, "storing rehashed password failed", "user_id", userID, "error", err)
		return
	}
	logDebug(r, "password rehashed", "user_id", userID)
}
