package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/service"
)

// Context keys for authenticated request data
const (
	UserKey    contextKey = "user"
	SessionKey contextKey = "session"
)

// Authenticator resolves a session token to its live user and session
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, *model.Session, error)
}

// Auth requires a valid session token. The token is read from the
// Authorization bearer header first, then from the session cookie.
func (m *Middleware) Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, m.cfg.Sessions.CookieName)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
				return
			}

			user, session, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, model.ErrServiceUnavailable) {
					m.log.Error().Err(err).Msg("session validation unavailable")
					writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable")
					return
				}
				m.log.Debug().Err(err).Msg("session validation failed")
				writeError(w, http.StatusUnauthorized, "invalid_session", "The session is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			ctx = context.WithValue(ctx, SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest extracts the session token from the bearer header or
// the named cookie
func TokenFromRequest(r *http.Request, cookieName string) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			return cookie.Value
		}
	}
	return ""
}

// UserFromContext returns the authenticated user, or nil
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(UserKey).(*model.User)
	return user
}

// SessionFromContext returns the authenticated session, or nil
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(SessionKey).(*model.Session)
	return session
}

// ActorFromRequest builds the service caller for r
func ActorFromRequest(r *http.Request) service.Actor {
	return service.Actor{
		User:   UserFromContext(r.Context()),
		Client: ClientInfo(r),
	}
}
