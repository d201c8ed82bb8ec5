package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vocanalytics/voc/internal/middleware"
	"github.com/vocanalytics/voc/internal/model"
)

// Directory listing page sizes
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

type listUsersResponse struct {
	Users  []model.UserView `json:"users"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ListUsers handles GET /api/v1/users?search=&role=&limit=&offset=
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := parseUserFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	users := make([]model.UserView, 0)
	for user, err := range h.users.GetUsers(r.Context(), filter) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		users = append(users, user)
	}

	writeJSON(w, http.StatusOK, listUsersResponse{Users: users, Limit: filter.Limit, Offset: filter.Offset})
}

func parseUserFilter(r *http.Request) (model.UserFilter, error) {
	q := r.URL.Query()
	filter := model.UserFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  DefaultPageSize,
	}

	for _, raw := range q["role"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			role, err := model.ParseRole(part)
			if err != nil {
				return filter, err
			}
			filter.Roles = append(filter.Roles, role)
		}
	}

	limit, err := pageLimit(q.Get("limit"))
	if err != nil {
		return filter, err
	}
	filter.Limit = limit

	offset, err := intParam(q.Get("offset"), "offset", 0)
	if err != nil {
		return filter, err
	}
	filter.Offset = offset
	return filter, nil
}

// pageLimit parses ?limit, defaulting to DefaultPageSize and capped at MaxPageSize
func pageLimit(raw string) (int, error) {
	limit, err := intParam(raw, "limit", DefaultPageSize)
	if err != nil {
		return 0, err
	}
	if limit < 1 || limit > MaxPageSize {
		return 0, model.NewValidationError("limit", "limit.range", "limit must be between 1 and "+strconv.Itoa(MaxPageSize))
	}
	return limit, nil
}

func intParam(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidationError(field, field+".format", field+" must be an integer")
	}
	return n, nil
}

// GetUser handles GET /api/v1/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// CreateUser handles POST /api/v1/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req model.NewUser
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	user, err := h.users.CreateUser(r.Context(), middleware.ActorFromRequest(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// UpdateUser handles PATCH /api/v1/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	h.updateUser(w, r, r.PathValue("id"))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	var patch model.UserPatch
	if err := readJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	user, err := h.users.UpdateUser(r.Context(), middleware.ActorFromRequest(r), id, patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /api/v1/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.DeleteUser(r.Context(), middleware.ActorFromRequest(r), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeUserSessions handles POST /api/v1/users/{id}/sessions/revoke
func (h *Handler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.InvalidateUserSessions(r.Context(), middleware.ActorFromRequest(r), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}
