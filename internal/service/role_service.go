package service

import (
	"context"

	"github.com/vocanalytics/voc/internal/auth"
	"github.com/vocanalytics/voc/internal/config"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/metrics"
	"github.com/vocanalytics/voc/internal/model"
)

// RoleService maintains the role catalogue shown on the dashboard. The
// catalogue describes roles; it never grants permissions to users.
type RoleService struct {
	roles    RoleStore
	activity *ActivityService
	cfg      *config.Config
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewRoleService creates a new RoleService
func NewRoleService(roles RoleStore, activity *ActivityService, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) *RoleService {
	return &RoleService{
		roles:    roles,
		activity: activity,
		cfg:      cfg,
		metrics:  m,
		log:      log.WithComponent("role_service"),
	}
}

// ListRoles returns every role with its catalogued permissions
func (s *RoleService) ListRoles(ctx context.Context) ([]model.RoleDefinition, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	catalogue, err := s.roles.List(ctx)
	if err != nil {
		return nil, translate("list roles", err)
	}

	result := make([]model.RoleDefinition, 0, len(model.Roles))
	for _, role := range model.Roles {
		perms, err := model.NormalizePermissions(catalogue[role])
		if err != nil {
			s.log.Warn().Err(err).Str("role", string(role)).Msg("ignoring unknown catalogued permission")
			perms = validOnly(catalogue[role])
		}
		result = append(result, model.RoleDefinition{Role: role, Permissions: perms})
	}
	return result, nil
}

// UpdateRolePermissions replaces the catalogued permissions of role
func (s *RoleService) UpdateRolePermissions(ctx context.Context, actor Actor, role model.Role, perms []model.Permission) (*model.RoleDefinition, error) {
	if actor.User == nil {
		return nil, errInvalidSession
	}
	if err := auth.Authorize(actor.User, model.PermManageUsers); err != nil {
		s.metrics.AuthorizationDenied(string(model.PermManageUsers))
		return nil, err
	}

	role, err := model.ParseRole(string(role))
	if err != nil {
		return nil, err
	}
	perms, err = model.NormalizePermissions(perms)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Database.QueryTimeout)
	defer cancel()

	if err := s.roles.Replace(ctx, role, perms); err != nil {
		return nil, translate("update role permissions", err)
	}

	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	s.activity.RecordActivity(ctx, actor.ID(), model.AuditActionRoleUpdated, map[string]interface{}{
		"role":        role,
		"permissions": names,
	}, actor.Client)

	s.log.Info().Str("role", string(role)).Strs("permissions", names).Str("updated_by", actor.ID()).Msg("role permissions updated")
	return &model.RoleDefinition{Role: role, Permissions: perms}, nil
}

func validOnly(perms []model.Permission) []model.Permission {
	out := make([]model.Permission, 0, len(perms))
	for _, p := range model.Permissions {
		for _, q := range perms {
			if p == q {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
