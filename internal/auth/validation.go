package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vocanalytics/voc/internal/model"
)

const (
	UsernameMinLength = 3
	UsernameMaxLength = 50
	EmailMaxLength    = 255
)

// PasswordPolicy describes the strength rules a new password must satisfy
type PasswordPolicy struct {
	MinLength    int
	MaxLength    int // 0 disables the upper bound
	RequireUpper bool
	RequireLower bool
	RequireDigit bool
}

// DefaultPasswordPolicy requires 8 characters with an uppercase letter,
// a lowercase letter, and a digit
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:    8,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// ValidatePassword checks password against the policy and reports the first
// rule it violates
func (p PasswordPolicy) ValidatePassword(password string) error {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = 8
	}

	length := utf8.RuneCountInString(password)
	if length < minLength {
		return model.NewValidationError("password", "password.min_length",
			fmt.Sprintf("password must be at least %d characters long", minLength))
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		return model.NewValidationError("password", "password.max_length",
			fmt.Sprintf("password must be at most %d characters long", p.MaxLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if p.RequireUpper && !hasUpper {
		return model.NewValidationError("password", "password.uppercase", "password must contain at least one uppercase letter")
	}
	if p.RequireLower && !hasLower {
		return model.NewValidationError("password", "password.lowercase", "password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		return model.NewValidationError("password", "password.digit", "password must contain at least one number")
	}
	return nil
}

// NormalizeEmail validates the address syntax and returns it lowercased
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > EmailMaxLength {
		return "", model.NewValidationError("email", "email.format", "a valid email address is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", model.NewValidationError("email", "email.format", "a valid email address is required")
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", model.NewValidationError("email", "email.format", "email domain must contain a dot")
	}
	return email, nil
}

// NormalizeUsername trims the username and checks its length
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	n := utf8.RuneCountInString(username)
	if n < UsernameMinLength || n > UsernameMaxLength {
		return "", model.NewValidationError("username", "username.length",
			fmt.Sprintf("username must be between %d and %d characters", UsernameMinLength, UsernameMaxLength))
	}
	return username, nil
}

// ValidateNewUser checks and normalizes a create request in place. Role
// defaults to user and status to active.
func ValidateNewUser(req *model.NewUser, policy PasswordPolicy) error {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return err
	}
	req.Email = email

	username, err := NormalizeUsername(req.Username)
	if err != nil {
		return err
	}
	req.Username = username

	if err := policy.ValidatePassword(req.Password); err != nil {
		return err
	}

	if req.Role == "" {
		req.Role = model.RoleUser
	}
	role, err := model.ParseRole(string(req.Role))
	if err != nil {
		return err
	}
	req.Role = role

	if req.Status == "" {
		req.Status = model.UserStatusActive
	}
	status, err := model.ParseStatus(string(req.Status))
	if err != nil {
		return err
	}
	req.Status = status

	perms, err := model.NormalizePermissions(req.Permissions)
	if err != nil {
		return err
	}
	req.Permissions = perms

	req.FullName = trimOptional(req.FullName)
	return nil
}

// ValidatePatch checks and normalizes the fields present in a patch
func ValidatePatch(patch *model.UserPatch, policy PasswordPolicy) error {
	if patch.Email != nil {
		email, err := NormalizeEmail(*patch.Email)
		if err != nil {
			return err
		}
		patch.Email = &email
	}
	if patch.Username != nil {
		username, err := NormalizeUsername(*patch.Username)
		if err != nil {
			return err
		}
		patch.Username = &username
	}
	if patch.Password != nil {
		if err := policy.ValidatePassword(*patch.Password); err != nil {
			return err
		}
	}
	if patch.Role != nil {
		role, err := model.ParseRole(string(*patch.Role))
		if err != nil {
			return err
		}
		patch.Role = &role
	}
	if patch.Status != nil {
		status, err := model.ParseStatus(string(*patch.Status))
		if err != nil {
			return err
		}
		patch.Status = &status
	}
	if patch.Permissions != nil {
		perms, err := model.NormalizePermissions(*patch.Permissions)
		if err != nil {
			return err
		}
		patch.Permissions = &perms
	}
	if patch.FullName != nil {
		name := strings.TrimSpace(*patch.FullName)
		patch.FullName = &name
	}
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
