package handler

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/middleware"
	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/service"
)

// UserManager is the user directory as seen by the HTTP layer
type UserManager interface {
	CreateUser(ctx context.Context, actor service.Actor, req model.NewUser) (*model.UserView, error)
	Register(ctx context.Context, client model.ClientInfo, req model.NewUser) (*model.UserView, error)
	UpdateUser(ctx context.Context, actor service.Actor, id string, patch model.UserPatch) (*model.UserView, error)
	DeleteUser(ctx context.Context, actor service.Actor, id string) error
	GetUser(ctx context.Context, id string) (*model.UserView, error)
	GetUsers(ctx context.Context, filter model.UserFilter) iter.Seq2[model.UserView, error]
	GetUserStatistics(ctx context.Context) (*model.UserStatistics, error)
	GetRoleDistribution(ctx context.Context) ([]model.RoleCount, error)
	GetUserGrowth(ctx context.Context, days int) ([]model.GrowthPoint, error)
}

// SessionManager opens and ends sessions
type SessionManager interface {
	Login(ctx context.Context, username, password string, client model.ClientInfo) (*service.LoginResult, error)
	Logout(ctx context.Context, sessionID string, client model.ClientInfo) error
	InvalidateUserSessions(ctx context.Context, actor service.Actor, userID string) (int64, error)
}

// RoleManager reads and edits the role catalogue
type RoleManager interface {
	ListRoles(ctx context.Context) ([]model.RoleDefinition, error)
	UpdateRolePermissions(ctx context.Context, actor service.Actor, role model.Role, perms []model.Permission) (*model.RoleDefinition, error)
}

// ActivityReader queries the audit trail
type ActivityReader interface {
	GetActivityLogs(ctx context.Context, actor service.Actor, start, end time.Time, filter model.ActivityFilter) (iter.Seq2[*model.ActivityLog, error], error)
}

// HealthChecker is a backing store that can report its health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	log      *logger.Logger
	cfg      *config.Config
	users    UserManager
	sessions SessionManager
	roles    RoleManager
	activity ActivityReader
	checks   map[string]HealthChecker
}

// New creates a new Handler instance. checks names the backing stores
// reported by the health endpoints.
func New(log *logger.Logger, cfg *config.Config, users UserManager, sessions SessionManager, roles RoleManager, activity ActivityReader, checks map[string]HealthChecker) *Handler {
	return &Handler{
		log:      log.WithComponent("handler"),
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		roles:    roles,
		activity: activity,
		checks:   checks,
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *model.ValidationError
		cerr *model.ConflictError
		aerr *model.AuthorizationError
	)
	switch {
	case errors.As(err, &verr):
		writeErrorWithDetails(w, http.StatusBadRequest, "validation_error", verr.Error(), map[string]interface{}{
			"field": verr.Field,
			"rule":  verr.Rule,
		})
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, model.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "authentication_failed", "Invalid username or password")
	case errors.As(err, &aerr):
		writeErrorWithDetails(w, http.StatusForbidden, "permission_denied", "Permission denied", map[string]interface{}{
			"permission": aerr.Permission,
		})
	case errors.Is(err, model.ErrAuthorization):
		writeError(w, http.StatusForbidden, "permission_denied", "Permission denied")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.As(err, &cerr):
		writeErrorWithDetails(w, http.StatusConflict, "conflict", cerr.Error(), map[string]interface{}{
			"field": cerr.Field,
		})
	case errors.Is(err, model.ErrServiceUnavailable):
		h.log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("backing store unavailable")
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable")
	default:
		h.log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
