package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/vocanalytics/voc/internal/middleware"
	"github.com/vocanalytics/voc/internal/model"
)

// --- Cookie helpers ---

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Sessions.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cfg.Sessions.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Sessions.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Sessions.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- Registration Handler ---

// Register handles self-registration when it is enabled
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.NewUser
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	user, err := h.users.Register(r.Context(), middleware.ClientInfo(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// --- Login Handler ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	TokenType string         `json:"tokenType"`
	SessionID string         `json:"sessionId"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      model.UserView `json:"user"`
}

// Login handles username and password authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Username and password are required")
		return
	}

	result, err := h.sessions.Login(r.Context(), req.Username, req.Password, middleware.ClientInfo(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, result.Token, result.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		TokenType: "Bearer",
		SessionID: result.Session.ID,
		ExpiresAt: result.Session.ExpiresAt,
		User:      result.User,
	})
}

// --- Logout Handlers ---

// Logout ends the current session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
		return
	}

	if err := h.sessions.Logout(r.Context(), session.ID, middleware.ClientInfo(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// LogoutAll ends every session of the calling user
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)
	if actor.User == nil {
		writeError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
		return
	}

	n, err := h.sessions.InvalidateUserSessions(r.Context(), actor, actor.User.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// --- Current user ---

// GetCurrentUser returns the authenticated user
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, user.View())
}

// UpdateCurrentUser applies a self-service patch to the authenticated user
func (h *Handler) UpdateCurrentUser(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)
	if actor.User == nil {
		writeError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
		return
	}
	h.updateUser(w, r, actor.User.ID)
}
