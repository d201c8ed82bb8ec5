package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// RateLimit creates a fixed-window rate limiting middleware backed by Redis.
// Redis failures let the request through.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.cfg.Security.RateLimiting.Enabled || cfg.Limit <= 0 || m.rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := "voc:ratelimit:" + cfg.Name + ":" + cfg.KeyFn(r)
			count, ttl, err := m.rdb.IncrWindow(r.Context(), key, cfg.Window)
			if err != nil {
				m.log.Error().Err(err).Str("limit", cfg.Name).Msg("failed to increment rate limit counter")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(cfg.Limit)-count), 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

			if count > int64(cfg.Limit) {
				retry := int64(ttl.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				m.log.Warn().Str("limit", cfg.Name).Str("client_ip", ClientIP(r)).Msg("rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoginRateLimit limits login attempts per client address using the
// configured login window
func (m *Middleware) LoginRateLimit() func(http.Handler) http.Handler {
	return m.RateLimit(RateLimitConfig{
		Name:   "login",
		Limit:  m.cfg.Security.RateLimiting.LoginLimit,
		Window: m.cfg.Security.RateLimiting.LoginWindow,
		KeyFn:  IPKey,
	})
}

// IPKey returns the client IP address as the rate limit key
func IPKey(r *http.Request) string {
	return ClientIP(r)
}
