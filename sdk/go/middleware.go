package voc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const (
	userContextKey  contextKey = "voc_user"
	tokenContextKey contextKey = "voc_token"
)

// MiddlewareConfig configures the authentication middleware.
type MiddlewareConfig struct {
	// SkipPaths is a list of path prefixes that do not require authentication.
	// Example: []string{"/health", "/public/"}
	SkipPaths []string

	// RequirePermission rejects users without this permission (HTTP 403).
	RequirePermission string

	// ErrorHandler is an optional custom handler for authentication failures.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware returns net/http middleware that resolves the request's
// session token to a user. Retrieve the user in handlers with UserFromContext.
func (c *Client) Middleware(cfgs ...MiddlewareConfig) func(http.Handler) http.Handler {
	cfg := MiddlewareConfig{}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range cfg.SkipPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := extractToken(r, c.cfg.CookieName)
			if token == "" {
				handleAuthError(w, r, cfg, ErrNoToken)
				return
			}

			user, err := c.Me(r.Context(), token)
			if err != nil {
				handleAuthError(w, r, cfg, err)
				return
			}

			if cfg.RequirePermission != "" && !user.HasPermission(cfg.RequirePermission) {
				writeError(w, http.StatusForbidden, "permission_denied", "Permission denied")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the authenticated user, or nil when the
// middleware was not applied or skipped.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// TokenFromContext returns the raw session token, or "".
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

func extractToken(r *http.Request, cookieName string) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

func handleAuthError(w http.ResponseWriter, r *http.Request, cfg MiddlewareConfig, err error) {
	if cfg.ErrorHandler != nil {
		cfg.ErrorHandler(w, r, err)
		return
	}

	switch {
	case errors.Is(err, ErrNoToken):
		writeError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
	case errors.Is(err, ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid_session", "The session is invalid or expired")
	default:
		writeError(w, http.StatusBadGateway, "upstream_error", "Could not verify the session")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
