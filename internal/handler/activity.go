package handler

import (
	"net/http"
	"time"

	"github.com/vocanalytics/voc/internal/middleware"
	"github.com/vocanalytics/voc/internal/model"
)

// DefaultActivityWindow is the look-back used when ?start is absent
const DefaultActivityWindow = 24 * time.Hour

// ListActivity handles GET /api/v1/activity?start=&end=&user_id=&action=&limit=
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := time.Now().UTC()
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeServiceError(w, r, model.NewValidationError("end", "time.format", "end must be an RFC 3339 timestamp"))
			return
		}
		end = t
	}
	start := end.Add(-DefaultActivityWindow)
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeServiceError(w, r, model.NewValidationError("start", "time.format", "start must be an RFC 3339 timestamp"))
			return
		}
		start = t
	}

	limit, err := pageLimit(q.Get("limit"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	filter := model.ActivityFilter{
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
		Limit:  limit,
	}
	seq, err := h.activity.GetActivityLogs(r.Context(), middleware.ActorFromRequest(r), start, end, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	logs := make([]*model.ActivityLog, 0)
	for entry, err := range seq {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		logs = append(logs, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"start": start,
		"end":   end,
		"logs":  logs,
	})
}
