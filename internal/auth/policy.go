package auth

import "github.com/vocanalytics/voc/internal/model"

// HasPermission reports whether user holds perm. admin:all grants every
// permission. Role is not consulted; permissions are stored on the user.
func HasPermission(user *model.User, perm model.Permission) bool {
	if user == nil || !perm.Valid() {
		return false
	}
	for _, p := range user.Permissions {
		switch p {
		case model.PermAdminAll:
			return true
		case perm:
			return true
		}
	}
	return false
}

// Authorize fails with an AuthorizationError when user lacks perm
func Authorize(user *model.User, perm model.Permission) error {
	if HasPermission(user, perm) {
		return nil
	}
	return &model.AuthorizationError{Permission: perm}
}
