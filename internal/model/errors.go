package model

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced to API and dashboard callers
var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("resource already exists")
	ErrNotFound           = errors.New("resource not found")
	ErrAuthentication     = errors.New("authentication failed")
	ErrAuthorization      = errors.New("permission denied")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)

// ValidationError names the field and the specific rule an input violated
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

// NewValidationError creates a ValidationError
func NewValidationError(field, rule, message string) *ValidationError {
	return &ValidationError{Field: field, Rule: rule, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError reports which unique field collided
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s already registered", e.Field)
}

// Is makes every ConflictError match ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// AuthorizationError reports the permission a caller was missing
type AuthorizationError struct {
	Permission Permission
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("missing permission %s", e.Permission)
}

// Is makes every AuthorizationError match ErrAuthorization
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAuthorization
}
