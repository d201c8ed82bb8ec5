package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// Common repository errors
var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("record already exists")
	ErrUnavailable = errors.New("datastore unavailable")
)

const (
	pqUniqueViolation           = "23505"
	pqInvalidTextRepresentation = "22P02"
)

// DuplicateError names the unique column an insert or update collided on
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate value for %s", e.Field)
}

// Is makes every DuplicateError match ErrDuplicate
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// classify wraps err with op and maps driver failures onto the repository
// errors callers branch on
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return &DuplicateError{Field: fieldFromConstraint(pqErr.Constraint)}
		case pqInvalidTextRepresentation:
			// a malformed uuid key never names a stored row
			return ErrNotFound
		}
	}

	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// fieldFromConstraint turns "users_email_key" into "email"
func fieldFromConstraint(constraint string) string {
	name := strings.TrimPrefix(constraint, "users_")
	name = strings.TrimSuffix(name, "_key")
	if name == "" {
		return "record"
	}
	return name
}
