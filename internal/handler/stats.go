package handler

import "net/http"

// DefaultGrowthDays is the growth window used when ?days is absent
const DefaultGrowthDays = 30

// GetUserStatistics handles GET /api/v1/users/stats
func (h *Handler) GetUserStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.users.GetUserStatistics(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetRoleDistribution handles GET /api/v1/users/roles/distribution
func (h *Handler) GetRoleDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.users.GetRoleDistribution(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": dist})
}

// GetUserGrowth handles GET /api/v1/users/growth?days=
func (h *Handler) GetUserGrowth(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), "days", DefaultGrowthDays)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	points, err := h.users.GetUserGrowth(r.Context(), days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "points": points})
}
