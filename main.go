package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/quill/internal/api"
	"github.com/MGallo-Code/quill/internal/captcha"
	"github.com/MGallo-Code/quill/internal/config"
	"github.com/MGallo-Code/quill/internal/password"
	"github.com/MGallo-Code/quill/internal/ratelimit"
	"github.com/MGallo-Code/quill/internal/store"
	"github.com/MGallo-Code/quill/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rs) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rs.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Create new postgres store, return errors if any
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	// Close at end of run func
	defer ps.Close()

	// Run database migrations
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional: without it revocation is disabled and limits stay in-process.
	var rs api.Cache = store.NoopCache{}
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis store: %w", err)
		}
		defer redisStore.Close()
		rs = redisStore
		if cfg.RateLimitBackend == config.BackendRedis {
			limiter = ratelimit.NewRedisLimiter(redisStore.Client())
		}
	} else {
		slog.Warn("REDIS_URL not set, token revocation disabled")
	}

	// Background janitor drops expired in-memory windows; stops when run() returns.
	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	if limiter == nil {
		mem := ratelimit.NewMemoryLimiter()
		mem.StartJanitor(janitorCtx, ratelimit.DefaultSweepEvery)
		limiter = mem
	}

	hasher, err := password.New(cfg.PBKDF2Iterations)
	if err != nil {
		return fmt.Errorf("failed to set up password hasher: %w", err)
	}
	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("failed to set up token issuer: %w", err)
	}

	trusted, err := ratelimit.ParseIPSet(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	bypass, err := ratelimit.ParseIPSet(cfg.RateLimitBypass)
	if err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_BYPASS: %w", err)
	}
	clientIP := ratelimit.ClientIP(trusted)

	h := &api.Handler{
		PS:       ps,
		RS:       rs,
		Hasher:   hasher,
		Tokens:   issuer,
		KDF:      rate.NewLimiter(rate.Limit(cfg.KDFRate), cfg.KDFBurst),
		ClientIP: clientIP,
	}
	if cfg.TurnstileSecret != "" {
		h.Captcha = captcha.NewTurnstileVerifier(cfg.TurnstileSecret, captcha.DefaultTurnstileURL)
	}

	limits, err := newRouteLimits(cfg, limiter, clientIP, bypass)
	if err != nil {
		return fmt.Errorf("failed to set up rate limits: %w", err)
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h, limits, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("quill listening", "addr", ln.Addr().String(),
			"rate_limit_backend", cfg.RateLimitBackend, "captcha", h.Captcha != nil)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	// In-flight requests get 30s to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// routeLimits holds one rate-limit middleware per preset.
type routeLimits struct {
	auth      func(http.Handler) http.Handler
	blogWrite func(http.Handler) http.Handler
	general   func(http.Handler) http.Handler
	public    func(http.Handler) http.Handler
}

// newRouteLimits builds the preset middlewares over one shared limiter.
// Auth and public are keyed by client address; blog writes and general account
// traffic by authenticated user, so they must sit behind RequireAuth.
func newRouteLimits(cfg *config.Config, limiter ratelimit.Limiter, clientIP ratelimit.KeyFunc, bypass *ratelimit.IPSet) (routeLimits, error) {
	skip := func(r *http.Request) bool { return bypass.Contains(clientIP(r)) }
	byUser := ratelimit.UserOrIP(api.UserKey, clientIP)

	var rl routeLimits
	var err error
	// Every signup and signin counts, successful or not.
	if rl.auth, err = ratelimit.Middleware(ratelimit.Options{
		Name:    "auth",
		Policy:  cfg.RateAuth,
		Limiter: limiter,
		KeyFunc: clientIP,
		Skip:    skip,
	}); err != nil {
		return rl, fmt.Errorf("auth preset: %w", err)
	}
	if rl.blogWrite, err = ratelimit.Middleware(ratelimit.Options{
		Name:    "blog",
		Policy:  cfg.RateBlogWrite,
		Limiter: limiter,
		KeyFunc: byUser,
		Skip:    skip,
	}); err != nil {
		return rl, fmt.Errorf("blog write preset: %w", err)
	}
	if rl.general, err = ratelimit.Middleware(ratelimit.Options{
		Name:    "general",
		Policy:  cfg.RateGeneral,
		Limiter: limiter,
		KeyFunc: byUser,
		Skip:    skip,
	}); err != nil {
		return rl, fmt.Errorf("general preset: %w", err)
	}
	if rl.public, err = ratelimit.Middleware(ratelimit.Options{
		Name:    "public",
		Policy:  cfg.RatePublic,
		Limiter: limiter,
		KeyFunc: clientIP,
		Skip:    skip,
	}); err != nil {
		return rl, fmt.Errorf("public preset: %w", err)
	}
	return rl, nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *api.Handler, limits routeLimits, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.Banner)
	r.Get("/health", h.CheckHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", h.Banner)
		r.Get("/health", h.CheckHealth)

		r.With(limits.auth).Post("/auth/signup", h.Signup)
		r.With(limits.auth).Post("/auth/signin", h.Signin)

		r.Group(func(r chi.Router) {
			r.Use(limits.public)
			r.Get("/public/blogs", h.ListPublicPosts)
			r.Get("/public/blog/{id}", h.GetPublicPost)
			r.Get("/public/author/{authorId}/blogs", h.ListAuthorPosts)
			r.Get("/public/tags", h.PopularTags)
		})

		// Authentication required routes.
		// Rate limits keyed by user MUST run after RequireAuth.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Group(func(r chi.Router) {
				r.Use(limits.general)
				r.Get("/blog/bulk", h.ListOwnPosts)
				r.Get("/blog/{id}", h.GetPost)

				r.Get("/user/profile", h.GetProfile)
				r.Put("/user/profile", h.UpdateProfile)
				r.Put("/user/password", h.ChangePassword)
				r.Get("/user/blogs", h.ListUserPosts)
				r.Delete("/user/account", h.DeleteAccount)
			})

			r.Group(func(r chi.Router) {
				r.Use(limits.blogWrite)
				r.Post("/blog", h.CreatePost)
				r.Put("/blog/{id}", h.UpdatePost)
				r.Delete("/blog/{id}", h.DeletePost)
			})
		})
	})

	return r
}
