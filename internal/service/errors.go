package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocanalytics/voc/internal/model"
	"github.com/vocanalytics/voc/internal/repository"
)

var (
	errInvalidCredentials = fmt.Errorf("%w: invalid username or password", model.ErrAuthentication)
	errInvalidSession     = fmt.Errorf("%w: invalid or expired session", model.ErrAuthentication)
	errRegistrationClosed = fmt.Errorf("%w: self-registration is disabled", model.ErrAuthorization)
)

// translate maps repository failures onto the service error taxonomy
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var dup *repository.DuplicateError
	switch {
	case errors.As(err, &dup):
		return &model.ConflictError{Field: dup.Field}
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	case errors.Is(err, repository.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, model.ErrServiceUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
