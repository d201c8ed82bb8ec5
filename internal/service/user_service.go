package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/vocanalytics/voc/internal/auth"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/ids"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/metrics"
	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/repository"
)

// MaxGrowthDays bounds the window accepted by GetUserGrowth
const MaxGrowthDays = 365

// UserService is the user directory: CRUD over users plus the dashboard
// aggregates
type UserService struct {
	users    UserStore
	sessions SessionStore
	activity *ActivityService
	hasher   PasswordHasher
	policy   auth.PasswordPolicy
	cfg      *config.Config
	clock    Clock
	newID    func() string
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewUserService creates a new UserService
func NewUserService(
	users UserStore,
	sessions SessionStore,
	activity *ActivityService,
	hasher PasswordHasher,
	cfg *config.Config,
	m *metrics.Metrics,
	log *logger.Logger,
) *UserService {
	pw := cfg.Security.Password
	return &UserService{
		users:    users,
		sessions: sessions,
		activity: activity,
		hasher:   hasher,
		policy: auth.PasswordPolicy{
			MinLength:    pw.MinLength,
			MaxLength:    pw.MaxLength,
			RequireUpper: pw.RequireUpper,
			RequireLower: pw.RequireLower,
			RequireDigit: pw.RequireDigit,
		},
		cfg:     cfg,
		clock:   systemClock{},
		newID:   ids.NewUUID,
		metrics: m,
		log:     log.WithComponent("user_service"),
	}
}

// CreateUser validates and stores a new user on behalf of a user manager
func (s *UserService) CreateUser(ctx context.Context, actor Actor, req model.NewUser) (*model.UserView, error) {
	if err := s.authorize(actor, model.PermManageUsers); err != nil {
		return nil, err
	}

	user, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.activity.RecordActivity(ctx, actor.ID(), model.AuditActionUserCreated, map[string]interface{}{
		"target_user_id": user.ID,
		"username":       user.Username,
		"role":           user.Role,
	}, actor.Client)

	s.log.Info().Str("user_id", user.ID).Str("created_by", actor.ID()).Msg("user created")
	view := user.View()
	return &view, nil
}

// Register creates an account for an anonymous caller. The account always
// gets role user, status active and no permissions.
func (s *UserService) Register(ctx context.Context, client model.ClientInfo, req model.NewUser) (*model.UserView, error) {
	if !s.cfg.Security.AllowRegistration {
		return nil, errRegistrationClosed
	}

	req.Role = model.RoleUser
	req.Status = model.UserStatusActive
	req.Permissions = nil

	user, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.activity.RecordActivity(ctx, user.ID, model.AuditActionUserCreated, map[string]interface{}{
		"target_user_id":  user.ID,
		"username":        user.Username,
		"self_registered": true,
	}, client)

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	view := user.View()
	return &view, nil
}

// BootstrapAdmin creates the first administrator holding admin:all. It
// fails with a ConflictError once any user holds admin:all.
func (s *UserService) BootstrapAdmin(ctx context.Context, req model.NewUser) (*model.UserView, error) {
	qctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	n, err := s.users.CountWithPermission(qctx, model.PermAdminAll)
	cancel()
	if err != nil {
		return nil, translate("count administrators", err)
	}
	if n > 0 {
		return nil, &model.ConflictError{Field: "admin"}
	}

	req.Role = model.RoleAdmin
	req.Status = model.UserStatusActive
	req.Permissions = []model.Permission{model.PermAdminAll}

	user, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.activity.RecordActivity(ctx, user.ID, model.AuditActionUserCreated, map[string]interface{}{
		"target_user_id": user.ID,
		"username":       user.Username,
		"role":           user.Role,
		"bootstrap":      true,
	}, model.ClientInfo{})

	s.log.Info().Str("user_id", user.ID).Msg("administrator bootstrapped")
	view := user.View()
	return &view, nil
}

func (s *UserService) create(ctx context.Context, req model.NewUser) (*model.User, error) {
	if err := auth.ValidateNewUser(&req, s.policy); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	if err := s.checkUnique(ctx, "", &req.Email, &req.Username); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	settings := model.DefaultSettings()
	for k, v := range req.Settings {
		settings[k] = v
	}

	now := s.clock.Now()
	user := &model.User{
		ID:           s.newID(),
		Email:        req.Email,
		Username:     req.Username,
		FullName:     req.FullName,
		Role:         req.Role,
		Status:       req.Status,
		Permissions:  req.Permissions,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
		Settings:     settings,
	}

	// the unique constraints still decide concurrent inserts
	if err := s.users.Create(ctx, user); err != nil {
		return nil, translate("create user", err)
	}

	s.metrics.UserCreated()
	return user, nil
}

// UpdateUser applies patch to the user. Users may change their own email,
// username, full name, password and settings; everything else, and any
// change to another user, needs manage:users.
func (s *UserService) UpdateUser(ctx context.Context, actor Actor, id string, patch model.UserPatch) (*model.UserView, error) {
	if actor.User == nil {
		return nil, errInvalidSession
	}
	if actor.ID() != id || patch.Privileged() {
		if err := s.authorize(actor, model.PermManageUsers); err != nil {
			return nil, err
		}
	}
	if patch.IsEmpty() {
		return nil, model.NewValidationError("patch", "patch.empty", "no fields to update")
	}
	if err := auth.ValidatePatch(&patch, s.policy); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, translate("get user", err)
	}
	if actor.ID() == id && patch.Password != nil {
		if err := s.checkCurrentPassword(user, patch.CurrentPassword); err != nil {
			return nil, err
		}
	}

	var email, username *string
	if patch.Email != nil && *patch.Email != user.Email {
		email = patch.Email
	}
	if patch.Username != nil && *patch.Username != user.Username {
		username = patch.Username
	}
	if err := s.checkUnique(ctx, user.ID, email, username); err != nil {
		return nil, err
	}

	wasActive := user.IsActive()
	changed, err := s.apply(user, patch)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !now.After(user.UpdatedAt) {
		now = user.UpdatedAt.Add(time.Microsecond)
	}
	user.UpdatedAt = now

	if err := s.users.Update(ctx, user); err != nil {
		return nil, translate("update user", err)
	}

	if wasActive && !user.IsActive() {
		s.revokeSessions(ctx, user.ID)
	}

	s.activity.RecordActivity(ctx, actor.ID(), model.AuditActionUserUpdated, map[string]interface{}{
		"target_user_id": user.ID,
		"fields":         changed,
	}, actor.Client)

	s.log.Info().Str("user_id", user.ID).Strs("fields", changed).Str("updated_by", actor.ID()).Msg("user updated")
	view := user.View()
	return &view, nil
}

func (s *UserService) checkCurrentPassword(user *model.User, current *string) error {
	if current == nil || *current == "" {
		return model.NewValidationError("currentPassword", "password.current_required",
			"current password is required to change your password")
	}
	ok, err := s.hasher.Verify(*current, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to verify password")
	}
	if err != nil || !ok {
		s.log.Warn().Str("user_id", user.ID).Msg("password change rejected: wrong current password")
		return model.NewValidationError("currentPassword", "password.current_mismatch",
			"current password is incorrect")
	}
	return nil
}

// apply copies the patched fields onto user and returns their names.
// Password values never appear in the result.
func (s *UserService) apply(user *model.User, patch model.UserPatch) ([]string, error) {
	var changed []string
	if patch.Email != nil {
		user.Email = *patch.Email
		changed = append(changed, "email")
	}
	if patch.Username != nil {
		user.Username = *patch.Username
		changed = append(changed, "username")
	}
	if patch.FullName != nil {
		if *patch.FullName == "" {
			user.FullName = nil
		} else {
			name := *patch.FullName
			user.FullName = &name
		}
		changed = append(changed, "full_name")
	}
	if patch.Role != nil {
		user.Role = *patch.Role
		changed = append(changed, "role")
	}
	if patch.Status != nil {
		user.Status = *patch.Status
		changed = append(changed, "status")
	}
	if patch.Permissions != nil {
		user.Permissions = append([]model.Permission(nil), (*patch.Permissions)...)
		changed = append(changed, "permissions")
	}
	if patch.Password != nil {
		hash, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
		changed = append(changed, "password")
	}
	if len(patch.Settings) > 0 {
		if user.Settings == nil {
			user.Settings = map[string]interface{}{}
		}
		for k, v := range patch.Settings {
			user.Settings[k] = v
		}
		changed = append(changed, "settings")
	}
	return changed, nil
}

// DeleteUser removes a user the way users.delete_mode says
func (s *UserService) DeleteUser(ctx context.Context, actor Actor, id string) error {
	if s.cfg.Users.DeleteMode == config.DeleteModeHard {
		return s.HardDeleteUser(ctx, actor, id)
	}
	return s.SoftDeleteUser(ctx, actor, id)
}

// SoftDeleteUser marks the user inactive and revokes their sessions. The
// record, including its email and username, stays in the directory.
func (s *UserService) SoftDeleteUser(ctx context.Context, actor Actor, id string) error {
	if err := s.checkDelete(actor, id); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	if err := s.users.UpdateStatus(ctx, id, model.UserStatusInactive, s.clock.Now()); err != nil {
		return translate("deactivate user", err)
	}
	revoked := s.revokeSessions(ctx, id)

	s.activity.RecordActivity(ctx, actor.ID(), model.AuditActionUserDeleted, map[string]interface{}{
		"target_user_id":   id,
		"mode":             config.DeleteModeSoft,
		"sessions_revoked": revoked,
	}, actor.Client)

	s.metrics.UserDeleted(config.DeleteModeSoft)
	s.log.Info().Str("user_id", id).Str("deleted_by", actor.ID()).Msg("user soft-deleted")
	return nil
}

// HardDeleteUser removes the user record and their sessions. Their audit
// trail is kept or anonymized according to audit.on_user_delete.
func (s *UserService) HardDeleteUser(ctx context.Context, actor Actor, id string) error {
	if err := s.checkDelete(actor, id); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	if err := s.users.Delete(ctx, id); err != nil {
		return translate("delete user", err)
	}
	revoked := s.revokeSessions(ctx, id)

	details := map[string]interface{}{
		"mode":             config.DeleteModeHard,
		"sessions_revoked": revoked,
	}
	if s.cfg.Audit.OnUserDelete == config.AuditAnonymize {
		n, err := s.activity.AnonymizeUser(ctx, id)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", id).Msg("failed to anonymize activity logs")
		}
		details["entries_anonymized"] = n
	} else {
		details["target_user_id"] = id
	}

	s.activity.RecordActivity(ctx, actor.ID(), model.AuditActionUserDeleted, details, actor.Client)

	s.metrics.UserDeleted(config.DeleteModeHard)
	s.log.Info().Str("user_id", id).Str("deleted_by", actor.ID()).Msg("user hard-deleted")
	return nil
}

func (s *UserService) checkDelete(actor Actor, id string) error {
	if err := s.authorize(actor, model.PermManageUsers); err != nil {
		return err
	}
	if actor.ID() == id {
		return model.NewValidationError("id", "user.self_delete", "you cannot delete your own account")
	}
	return nil
}

// revokeSessions drops every session of userID. Failures are logged: the
// sessions are already unusable because validation checks the user.
func (s *UserService) revokeSessions(ctx context.Context, userID string) int64 {
	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to revoke user sessions")
		return 0
	}
	return n
}

// GetUser returns a single user
func (s *UserService) GetUser(ctx context.Context, id string) (*model.UserView, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, translate("get user", err)
	}
	view := user.View()
	return &view, nil
}

// GetUsers returns a lazy sequence of users matching filter. The query
// runs when iteration starts and the order is stable within one call.
func (s *UserService) GetUsers(ctx context.Context, filter model.UserFilter) iter.Seq2[model.UserView, error] {
	return func(yield func(model.UserView, error) bool) {
		for _, role := range filter.Roles {
			if !role.Valid() {
				yield(model.UserView{}, model.NewValidationError("role", "role.enum", "role must be one of admin, analyst, user"))
				return
			}
		}
		if filter.Limit < 0 || filter.Offset < 0 {
			yield(model.UserView{}, model.NewValidationError("limit", "limit.range", "limit and offset must not be negative"))
			return
		}

		ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
		defer cancel()

		for user, err := range s.users.List(ctx, filter) {
			if err != nil {
				yield(model.UserView{}, translate("list users", err))
				return
			}
			if !yield(user.View(), nil) {
				return
			}
		}
	}
}

// GetUserStatistics computes directory counts at call time
func (s *UserService) GetUserStatistics(ctx context.Context) (*model.UserStatistics, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	now := s.clock.Now()
	window := s.cfg.Users.NewUserWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	stats, err := s.users.Statistics(ctx, now.Add(-window))
	if err != nil {
		return nil, translate("user statistics", err)
	}
	stats.ComputedAt = now
	return &stats, nil
}

// GetRoleDistribution counts users per role, including roles nobody holds
func (s *UserService) GetRoleDistribution(ctx context.Context) ([]model.RoleCount, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	counts, err := s.users.RoleDistribution(ctx)
	if err != nil {
		return nil, translate("role distribution", err)
	}

	byRole := make(map[model.Role]int, len(counts))
	for _, rc := range counts {
		byRole[rc.Role] = rc.Count
	}
	result := make([]model.RoleCount, 0, len(model.Roles))
	for _, role := range model.Roles {
		result = append(result, model.RoleCount{Role: role, Count: byRole[role]})
	}
	return result, nil
}

// GetUserGrowth returns the number of users created on each of the last
// days days, oldest first, with zero-filled gaps
func (s *UserService) GetUserGrowth(ctx context.Context, days int) ([]model.GrowthPoint, error) {
	if days < 1 || days > MaxGrowthDays {
		return nil, model.NewValidationError("days", "days.range", fmt.Sprintf("days must be between 1 and %d", MaxGrowthDays))
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	points, err := s.users.Growth(ctx, since)
	if err != nil {
		return nil, translate("user growth", err)
	}

	byDay := make(map[string]int, len(points))
	for _, p := range points {
		byDay[p.Date.UTC().Format(time.DateOnly)] = p.Users
	}
	result := make([]model.GrowthPoint, 0, days)
	for d := since; !d.After(today); d = d.AddDate(0, 0, 1) {
		result = append(result, model.GrowthPoint{Date: d, Users: byDay[d.Format(time.DateOnly)]})
	}
	return result, nil
}

// checkUnique fails with a ConflictError when email or username belongs
// to a user other than selfID. Nil fields are skipped.
func (s *UserService) checkUnique(ctx context.Context, selfID string, email, username *string) error {
	if email != nil {
		if err := s.checkFree(ctx, "email", selfID, s.users.GetByEmail, *email); err != nil {
			return err
		}
	}
	if username != nil {
		if err := s.checkFree(ctx, "username", selfID, s.users.GetByUsername, *username); err != nil {
			return err
		}
	}
	return nil
}

func (s *UserService) checkFree(
	ctx context.Context,
	field, selfID string,
	lookup func(context.Context, string) (*model.User, error),
	value string,
) error {
	existing, err := lookup(ctx, value)
	switch {
	case err == nil:
		if existing.ID != selfID {
			return &model.ConflictError{Field: field}
		}
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return translate("check "+field, err)
	}
}

func (s *UserService) authorize(actor Actor, perm model.Permission) error {
	if actor.User == nil {
		return errInvalidSession
	}
	if err := auth.Authorize(actor.User, perm); err != nil {
		s.metrics.AuthorizationDenied(string(perm))
		s.log.Warn().Str("user_id", actor.ID()).Str("permission", string(perm)).Msg("permission denied")
		return err
	}
	return nil
}
