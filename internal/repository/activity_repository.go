package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/model"
)

// ActivityRepository handles activity log persistence. Entries are
// append-only; the only update is anonymizing a deleted user's trail.
type ActivityRepository struct {
	db *database.Postgres
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *database.Postgres) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create inserts a new activity log entry
func (r *ActivityRepository) Create(ctx context.Context, entry *model.ActivityLog) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil || entry.Details == nil {
		detailsJSON = []byte("{}")
	}

	query := `
		INSERT INTO activity_logs (id, user_id, action, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		detailsJSON,
		entry.IPAddress,
		entry.UserAgent,
		entry.Timestamp,
	)
	return classify("create activity log", err)
}

// List returns a lazy sequence of entries with start <= timestamp <= end,
// oldest first
func (r *ActivityRepository) List(ctx context.Context, start, end time.Time, filter model.ActivityFilter) iter.Seq2[*model.ActivityLog, error] {
	return func(yield func(*model.ActivityLog, error) bool) {
		args := []interface{}{start, end}
		query := `
			SELECT id, user_id, action, details, ip_address, user_agent, created_at
			FROM activity_logs
			WHERE created_at >= $1 AND created_at <= $2`
		if filter.UserID != "" {
			args = append(args, filter.UserID)
			query += fmt.Sprintf(" AND user_id = $%d", len(args))
		}
		if filter.Action != "" {
			args = append(args, filter.Action)
			query += fmt.Sprintf(" AND action = $%d", len(args))
		}
		query += " ORDER BY created_at, id"
		if filter.Limit > 0 {
			args = append(args, filter.Limit)
			query += fmt.Sprintf(" LIMIT $%d", len(args))
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, classify("list activity logs", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				entry       model.ActivityLog
				detailsJSON []byte
			)
			if err := rows.Scan(
				&entry.ID,
				&entry.UserID,
				&entry.Action,
				&detailsJSON,
				&entry.IPAddress,
				&entry.UserAgent,
				&entry.Timestamp,
			); err != nil {
				yield(nil, classify("scan activity log", err))
				return
			}
			entry.Details = map[string]interface{}{}
			if len(detailsJSON) > 0 {
				if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
					yield(nil, fmt.Errorf("failed to decode activity details: %w", err))
					return
				}
			}
			if !yield(&entry, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, classify("list activity logs", err))
		}
	}
}

// AnonymizeUser detaches every entry of userID from the user and strips
// client metadata. It returns the number of entries rewritten.
func (r *ActivityRepository) AnonymizeUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE activity_logs
		SET user_id = $1, ip_address = NULL, user_agent = NULL
		WHERE user_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, model.AnonymousUserID, userID)
	if err != nil {
		return 0, classify("anonymize activity logs", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("anonymize activity logs", err)
	}
	return n, nil
}
