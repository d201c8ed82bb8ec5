package voc

import "time"

// User is a directory entry as returned by the API. It never carries
// credentials.
type User struct {
	ID          string                 `json:"id"`
	Email       string                 `json:"email"`
	Username    string                 `json:"username"`
	FullName    *string                `json:"fullName,omitempty"`
	Role        string                 `json:"role"`
	Status      string                 `json:"status"`
	Permissions []string               `json:"permissions"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
	LastLogin   *time.Time             `json:"lastLogin,omitempty"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

// HasPermission reports whether the user holds perm directly or through
// admin:all.
func (u *User) HasPermission(perm string) bool {
	for _, p := range u.Permissions {
		if p == perm || p == "admin:all" {
			return true
		}
	}
	return false
}

// LoginRequest contains the credentials for authentication.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// CreateUserRequest contains the fields accepted when creating a user.
type CreateUserRequest struct {
	Email       string                 `json:"email"`
	Username    string                 `json:"username"`
	Password    string                 `json:"password"`
	FullName    *string                `json:"fullName,omitempty"`
	Role        string                 `json:"role,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Permissions []string               `json:"permissions,omitempty"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

// ListUsersOptions narrows a directory listing.
type ListUsersOptions struct {
	Search string
	Roles  []string
	Limit  int
	Offset int
}

// UserList is one page of the user directory.
type UserList struct {
	Users  []User `json:"users"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}
