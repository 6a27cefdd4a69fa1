// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MGallo-Code/quill/internal/ratelimit"
)

// MinJWTSecretLen mirrors token.MinSecretLen; checked here so a bad secret fails at startup.
const MinJWTSecretLen = 32

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all env configuration vars for Quill.
type Config struct {
	DatabaseURL string
	RedisURL    string // optional; empty disables the revocation cache and the redis limiter backend
	Port        string
	LogLevel    slog.Level

	JWTSecret []byte
	JWTTTL    time.Duration

	// PBKDF2 cost for newly stored credentials. Default 100000.
	PBKDF2Iterations int

	// CORSOrigins defaults to the local frontend dev server.
	CORSOrigins []string

	// TrustedProxies are peers whose forwarding headers are believed. Empty trusts none.
	TrustedProxies []string
	// RateLimitBypass lists addresses or CIDRs never rate limited.
	RateLimitBypass []string
	// RateLimitBackend is "memory" (per process) or "redis" (shared). Default memory.
	RateLimitBackend string

	// Preset policies. Defaults: auth 5/15m, blog write 10/1m, general 100/1m, public 200/1m.
	RateAuth      ratelimit.Policy
	RateBlogWrite ratelimit.Policy
	RateGeneral   ratelimit.Policy
	RatePublic    ratelimit.Policy

	// KDF gate: sustained password derivations per second and burst.
	KDFRate  float64
	KDFBurst int

	// TurnstileSecret enables captcha verification on signup when set.
	TurnstileSecret string
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, JWT_SECRET) are missing or invalid.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(secret) < MinJWTSecretLen {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLen)
	}
	cfg.JWTSecret = []byte(secret)
	cfg.JWTTTL = envDuration("JWT_TTL", 168*time.Hour)

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.PBKDF2Iterations = envInt("PBKDF2_ITERATIONS", 100000)

	cfg.CORSOrigins = envList("CORS_ORIGINS", []string{"http://localhost:5173"})
	cfg.TrustedProxies = envList("TRUSTED_PROXIES", nil)
	cfg.RateLimitBypass = envList("RATE_LIMIT_BYPASS", nil)

	switch backend := strings.ToLower(os.Getenv("RATE_LIMIT_BACKEND")); backend {
	case "", BackendMemory:
		cfg.RateLimitBackend = BackendMemory
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
		cfg.RateLimitBackend = BackendRedis
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, backend)
	}

	// Invalid values fall back to the default so a typo never disables limiting.
	cfg.RateAuth = envPolicy("AUTH", 5, 15*time.Minute)
	cfg.RateBlogWrite = envPolicy("BLOG_WRITE", 10, time.Minute)
	cfg.RateGeneral = envPolicy("GENERAL", 100, time.Minute)
	cfg.RatePublic = envPolicy("PUBLIC", 200, time.Minute)

	cfg.KDFRate = envFloat("KDF_RATE", 20)
	cfg.KDFBurst = envInt("KDF_BURST", 10)

	cfg.TurnstileSecret = os.Getenv("TURNSTILE_SECRET")

	return cfg, nil
}

// envPolicy reads RATE_<name>_MAX and RATE_<name>_WINDOW.
func envPolicy(name string, max int, window time.Duration) ratelimit.Policy {
	return ratelimit.Policy{
		Max:    envInt("RATE_"+name+"_MAX", max),
		Window: envDuration("RATE_"+name+"_WINDOW", window),
	}
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envFloat reads an env var as a positive float, returning def if missing or unparseable.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envList splits a comma-separated env var, dropping blanks. Returns def when nothing remains.
func envList(key string, def []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
