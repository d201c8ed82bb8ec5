package model

import (
	"strings"
	"time"
)

// Role is the advisory role label carried by a user
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleUser    Role = "user"
)

// Roles lists every role in display order
var Roles = []Role{RoleAdmin, RoleAnalyst, RoleUser}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAnalyst, RoleUser:
		return true
	}
	return false
}

// ParseRole converts a case-insensitive role name into a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", NewValidationError("role", "role.enum", "role must be one of admin, analyst, user")
	}
	return r, nil
}

// UserStatus represents the status of a user account
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// Valid reports whether s is one of the known statuses
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusSuspended:
		return true
	}
	return false
}

// ParseStatus converts a case-insensitive status name into a UserStatus
func ParseStatus(s string) (UserStatus, error) {
	st := UserStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", NewValidationError("status", "status.enum", "status must be one of active, inactive, suspended")
	}
	return st, nil
}

// User represents the core user entity
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Username     string                 `json:"username"`
	FullName     *string                `json:"fullName,omitempty"`
	Role         Role                   `json:"role"`
	Status       UserStatus             `json:"status"`
	Permissions  []Permission           `json:"permissions"`
	PasswordHash string                 `json:"-"` // never expose password hash
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	LastLogin    *time.Time             `json:"lastLogin,omitempty"`
	Settings     map[string]interface{} `json:"settings"`
}

// IsActive checks if the user account is active
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// WithoutCredential returns a copy of u with the password hash cleared
func (u *User) WithoutCredential() *User {
	c := *u
	c.PasswordHash = ""
	return &c
}

// View returns the public representation of the user
func (u *User) View() UserView {
	perms := make([]Permission, len(u.Permissions))
	copy(perms, u.Permissions)
	settings := make(map[string]interface{}, len(u.Settings))
	for k, v := range u.Settings {
		settings[k] = v
	}
	return UserView{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FullName:    u.FullName,
		Role:        u.Role,
		Status:      u.Status,
		Permissions: perms,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLogin:   u.LastLogin,
		Settings:    settings,
	}
}

// UserView is the user as returned to API and dashboard callers.
// It has no credential field at all.
type UserView struct {
	ID          string                 `json:"id"`
	Email       string                 `json:"email"`
	Username    string                 `json:"username"`
	FullName    *string                `json:"fullName,omitempty"`
	Role        Role                   `json:"role"`
	Status      UserStatus             `json:"status"`
	Permissions []Permission           `json:"permissions"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
	LastLogin   *time.Time             `json:"lastLogin,omitempty"`
	Settings    map[string]interface{} `json:"settings"`
}

// NewUser holds the fields accepted when creating a user
type NewUser struct {
	Email       string                 `json:"email"`
	Username    string                 `json:"username"`
	Password    string                 `json:"password"`
	FullName    *string                `json:"fullName,omitempty"`
	Role        Role                   `json:"role,omitempty"`
	Status      UserStatus             `json:"status,omitempty"`
	Permissions []Permission           `json:"permissions,omitempty"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

// UserPatch holds a partial update. Nil fields are left unchanged.
type UserPatch struct {
	Email       *string                `json:"email,omitempty"`
	Username    *string                `json:"username,omitempty"`
	FullName    *string                `json:"fullName,omitempty"`
	Role        *Role                  `json:"role,omitempty"`
	Status      *UserStatus            `json:"status,omitempty"`
	Permissions *[]Permission          `json:"permissions,omitempty"`
	Password    *string                `json:"password,omitempty"`
	Settings    map[string]interface{} `json:"settings,omitempty"`

	// CurrentPassword must accompany a change to the caller's own password
	CurrentPassword *string `json:"currentPassword,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *UserPatch) IsEmpty() bool {
	return p.Email == nil && p.Username == nil && p.FullName == nil &&
		p.Role == nil && p.Status == nil && p.Permissions == nil &&
		p.Password == nil && len(p.Settings) == 0
}

// Privileged reports whether the patch touches fields only user managers may change
func (p *UserPatch) Privileged() bool {
	return p.Role != nil || p.Status != nil || p.Permissions != nil
}

// UserFilter narrows a directory listing
type UserFilter struct {
	Search string
	Roles  []Role
	Limit  int
	Offset int
}

// UserStatistics is a point-in-time snapshot of directory counts
type UserStatistics struct {
	TotalUsers  int       `json:"totalUsers"`
	ActiveUsers int       `json:"activeUsers"`
	NewUsers    int       `json:"newUsers"`
	AdminUsers  int       `json:"adminUsers"`
	ComputedAt  time.Time `json:"computedAt"`
}

// RoleCount is the number of users holding a role
type RoleCount struct {
	Role  Role `json:"role"`
	Count int  `json:"count"`
}

// GrowthPoint is the number of users created on a given day
type GrowthPoint struct {
	Date  time.Time `json:"date"`
	Users int       `json:"users"`
}

// DefaultSettings returns the preferences a new user starts with
func DefaultSettings() map[string]interface{} {
	return map[string]interface{}{
		"theme":                 "light",
		"notifications_enabled": true,
		"email_notifications":   true,
		"timezone":              "UTC",
		"language":              "en",
		"dashboard_layout":      map[string]interface{}{},
	}
}
