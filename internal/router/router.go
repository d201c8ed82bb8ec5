package router

import (
	"net/http"

	"github.com/vocanalytics/voc/internal/handler"
	"github.com/vocanalytics/voc/internal/metrics"
	"github.com/vocanalytics/voc/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, authn middleware.Authenticator, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	mux.HandleFunc("GET /api/v1/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"VOC analytics API v1","version":"` + handler.Version + `"}`))
	})

	// Public authentication routes
	mux.Handle("POST /api/v1/auth/register", mw.LoginRateLimit()(http.HandlerFunc(h.Register)))
	mux.Handle("POST /api/v1/auth/login", mw.LoginRateLimit()(http.HandlerFunc(h.Login)))

	authMw := mw.Auth(authn)
	protected := func(fn http.HandlerFunc) http.Handler {
		return authMw(fn)
	}

	mux.Handle("POST /api/v1/auth/logout", protected(h.Logout))
	mux.Handle("POST /api/v1/auth/logout/all", protected(h.LogoutAll))

	// Current user
	mux.Handle("GET /api/v1/users/me", protected(h.GetCurrentUser))
	mux.Handle("PATCH /api/v1/users/me", protected(h.UpdateCurrentUser))

	// User directory
	mux.Handle("GET /api/v1/users", protected(h.ListUsers))
	mux.Handle("POST /api/v1/users", protected(h.CreateUser))
	mux.Handle("GET /api/v1/users/stats", protected(h.GetUserStatistics))
	mux.Handle("GET /api/v1/users/roles/distribution", protected(h.GetRoleDistribution))
	mux.Handle("GET /api/v1/users/growth", protected(h.GetUserGrowth))
	mux.Handle("GET /api/v1/users/{id}", protected(h.GetUser))
	mux.Handle("PATCH /api/v1/users/{id}", protected(h.UpdateUser))
	mux.Handle("DELETE /api/v1/users/{id}", protected(h.DeleteUser))
	mux.Handle("POST /api/v1/users/{id}/sessions/revoke", protected(h.RevokeUserSessions))

	// Roles and audit trail
	mux.Handle("GET /api/v1/roles", protected(h.ListRoles))
	mux.Handle("PUT /api/v1/roles/{role}", protected(h.UpdateRole))
	mux.Handle("GET /api/v1/activity", protected(h.ListActivity))

	// Apply middleware stack. Instrument wraps the mux directly so that
	// requests carry their matched pattern when it records them.
	return middleware.Chain(m.Instrument(mux),
		mw.Recover,
		mw.RequestID,
		mw.Logger,
		mw.SecurityHeaders,
		mw.CORS,
	)
}
