package model

import "strings"

// Permission is a capability granted directly to a user
type Permission string

const (
	PermReadMetrics  Permission = "read:metrics"
	PermWriteMetrics Permission = "write:metrics"
	PermManageAlerts Permission = "manage:alerts"
	PermManageUsers  Permission = "manage:users"
	PermAdminAll     Permission = "admin:all"
)

// Permissions lists every permission in display order
var Permissions = []Permission{
	PermReadMetrics,
	PermWriteMetrics,
	PermManageAlerts,
	PermManageUsers,
	PermAdminAll,
}

// Valid reports whether p is one of the known permissions
func (p Permission) Valid() bool {
	switch p {
	case PermReadMetrics, PermWriteMetrics, PermManageAlerts, PermManageUsers, PermAdminAll:
		return true
	}
	return false
}

// ParsePermission converts a permission key into a Permission
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", NewValidationError("permissions", "permission.enum", "unknown permission "+s)
	}
	return p, nil
}

// NormalizePermissions validates perms and returns them deduplicated in
// catalogue order.
func NormalizePermissions(perms []Permission) ([]Permission, error) {
	seen := make(map[Permission]bool, len(perms))
	for _, raw := range perms {
		p, err := ParsePermission(string(raw))
		if err != nil {
			return nil, err
		}
		seen[p] = true
	}
	out := make([]Permission, 0, len(seen))
	for _, p := range Permissions {
		if seen[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// RoleDefinition is a catalogue entry describing the permissions
// conventionally associated with a role.
type RoleDefinition struct {
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}
