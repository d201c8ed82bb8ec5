package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vocanalytics/voc/internal/logger"
	"github.com/vocanalytics/voc/internal/model"
)

func newRoleService(env *testEnv) (*RoleService, *memRoleStore) {
	store := &memRoleStore{catalogue: map[model.Role][]model.Permission{
		model.RoleAdmin:   {model.PermAdminAll},
		model.RoleAnalyst: {model.PermWriteMetrics, model.PermReadMetrics},
	}}
	return NewRoleService(store, env.activitySvc, env.cfg, nil, logger.Nop()), store
}

func TestListRoles(t *testing.T) {
	env := newTestEnv(t)
	svc, _ := newRoleService(env)

	roles, err := svc.ListRoles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.RoleDefinition{
		{Role: model.RoleAdmin, Permissions: []model.Permission{model.PermAdminAll}},
		{Role: model.RoleAnalyst, Permissions: []model.Permission{model.PermReadMetrics, model.PermWriteMetrics}},
		{Role: model.RoleUser, Permissions: []model.Permission{}},
	}, roles)
}

func TestUpdateRolePermissions(t *testing.T) {
	env := newTestEnv(t)
	svc, store := newRoleService(env)
	ctx := context.Background()

	def, err := svc.UpdateRolePermissions(ctx, env.admin, "USER", []model.Permission{model.PermReadMetrics, model.PermReadMetrics})
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, def.Role)
	assert.Equal(t, []model.Permission{model.PermReadMetrics}, store.catalogue[model.RoleUser])
	assert.Equal(t, model.AuditActionRoleUpdated, env.activity.last().Action)

	_, err = svc.UpdateRolePermissions(ctx, env.admin, model.RoleUser, []model.Permission{"fly:planes"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestUpdateRolePermissionsDoesNotGrantToUsers(t *testing.T) {
	env := newTestEnv(t)
	svc, _ := newRoleService(env)
	ctx := context.Background()
	alice := env.createAlice(t)

	_, err := svc.UpdateRolePermissions(ctx, env.admin, model.RoleUser, []model.Permission{model.PermManageUsers})
	require.NoError(t, err)

	// alice's role now catalogues manage:users but she still lacks it
	_, err = svc.UpdateRolePermissions(ctx, env.actorFor(t, alice.ID), model.RoleUser, nil)
	assert.ErrorIs(t, err, model.ErrAuthorization)
}
