package service

import (
	"context"
	"iter"
	"time"

	"github.com/vocanalytics/voc/internal/auth"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/ids"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/metrics"
	"github.com/vocanalytics/voc/internal/model"
)

// ActivityService records and reads the audit trail
type ActivityService struct {
	store   ActivityStore
	clock   Clock
	newID   func(time.Time) string
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewActivityService creates a new ActivityService
func NewActivityService(store ActivityStore, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) *ActivityService {
	return &ActivityService{
		store:   store,
		clock:   systemClock{},
		newID:   ids.NewAt,
		timeout: cfg.Database.QueryTimeout,
		metrics: m,
		log:     log.WithComponent("activity_service"),
	}
}

// RecordActivity appends an entry to the audit trail. Failures are logged
// and never returned, so auditing cannot fail the operation being audited.
// The write is detached from ctx cancellation.
func (s *ActivityService) RecordActivity(ctx context.Context, userID, action string, details map[string]interface{}, client model.ClientInfo) {
	now := s.clock.Now()
	entry := model.NewActivityLog(s.newID(now), userID, action, details, now, client)

	s.log.AuditLog(userID, action, entry.Details)

	ctx, cancel := withTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.store.Create(ctx, entry); err != nil {
		s.metrics.AuditWriteFailed()
		s.log.Error().Err(err).
			Str("user_id", userID).
			Str("action", action).
			Msg("failed to record activity")
	}
}

// GetActivityLogs returns a lazy sequence of entries with
// start <= timestamp <= end, oldest first. Callers without manage:users
// only see their own entries.
func (s *ActivityService) GetActivityLogs(ctx context.Context, actor Actor, start, end time.Time, filter model.ActivityFilter) (iter.Seq2[*model.ActivityLog, error], error) {
	if actor.User == nil {
		return nil, errInvalidSession
	}
	if end.Before(start) {
		return nil, model.NewValidationError("end", "range.order", "end must not be before start")
	}
	if filter.Limit < 0 {
		return nil, model.NewValidationError("limit", "limit.range", "limit must not be negative")
	}

	if !auth.HasPermission(actor.User, model.PermManageUsers) {
		if filter.UserID != "" && filter.UserID != actor.ID() {
			s.metrics.AuthorizationDenied(string(model.PermManageUsers))
			return nil, &model.AuthorizationError{Permission: model.PermManageUsers}
		}
		filter.UserID = actor.ID()
	}

	return func(yield func(*model.ActivityLog, error) bool) {
		ctx, cancel := withTimeout(ctx, s.timeout)
		defer cancel()

		for entry, err := range s.store.List(ctx, start, end, filter) {
			if err != nil {
				yield(nil, translate("list activity logs", err))
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}, nil
}

// AnonymizeUser detaches a deleted user's entries from their identity
func (s *ActivityService) AnonymizeUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.store.AnonymizeUser(ctx, userID)
	if err != nil {
		return 0, translate("anonymize activity logs", err)
	}
	return n, nil
}

// withTimeout bounds a datastore call. A zero timeout leaves ctx as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
