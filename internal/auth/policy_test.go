package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vocanalytics/voc/internal/model"
)

func TestHasPermissionAdminAllGrantsEverything(t *testing.T) {
	sets := [][]model.Permission{
		{model.PermAdminAll},
		{model.PermReadMetrics, model.PermAdminAll},
		{model.PermAdminAll, model.PermManageAlerts, model.PermWriteMetrics},
	}
	for _, perms := range sets {
		u := &model.User{Role: model.RoleUser, Permissions: perms}
		for _, p := range model.Permissions {
			assert.True(t, HasPermission(u, p), "%v should grant %s", perms, p)
		}
	}
}

func TestHasPermissionIgnoresRole(t *testing.T) {
	admin := &model.User{Role: model.RoleAdmin}
	assert.False(t, HasPermission(admin, model.PermManageUsers))

	user := &model.User{Role: model.RoleUser, Permissions: []model.Permission{model.PermManageUsers}}
	assert.True(t, HasPermission(user, model.PermManageUsers))
	assert.False(t, HasPermission(user, model.PermWriteMetrics))
}

func TestHasPermissionEdgeCases(t *testing.T) {
	assert.False(t, HasPermission(nil, model.PermReadMetrics))

	u := &model.User{Permissions: []model.Permission{model.PermAdminAll}}
	assert.False(t, HasPermission(u, model.Permission("unknown")))
}

func TestAuthorize(t *testing.T) {
	u := &model.User{Permissions: []model.Permission{model.PermReadMetrics}}
	assert.NoError(t, Authorize(u, model.PermReadMetrics))

	err := Authorize(u, model.PermManageUsers)
	var authz *model.AuthorizationError
	assert.ErrorAs(t, err, &authz)
	assert.Equal(t, model.PermManageUsers, authz.Permission)
	assert.ErrorIs(t, err, model.ErrAuthorization)
}
