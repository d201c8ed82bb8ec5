package handler

import (
	"net/http"

	"github.com/vocanalytics/voc/internal/middleware"
	"github.com/vocanalytics/voc/internal/model"
)

// ListRoles handles GET /api/v1/roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.ListRoles(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

type updateRoleRequest struct {
	Permissions []model.Permission `json:"permissions"`
}

// UpdateRole handles PUT /api/v1/roles/{role}
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	role, err := model.ParseRole(r.PathValue("role"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req updateRoleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	def, err := h.roles.UpdateRolePermissions(r.Context(), middleware.ActorFromRequest(r), role, req.Permissions)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}
