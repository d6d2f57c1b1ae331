package grantkit

import (
	"errors"
	"fmt"
)

// Sentinel errors for GrantKit operations.
//
// Guard failures (already granted, past expiry, unresolvable identifiers,
// unregistered giver types) are boolean results, not errors. These
// sentinels cover lookups the caller explicitly asked for and
// infrastructure failures.
var (
	// ErrRoleNotFound is returned by explicit role lookups when no role
	// matches the reference.
	ErrRoleNotFound = errors.New("grantkit: role not found")

	// ErrPermissionNotFound is returned by explicit permission lookups when
	// no permission matches the reference.
	ErrPermissionNotFound = errors.New("grantkit: permission not found")

	// ErrDuplicateSlug is returned when creating a role or permission whose
	// slug already exists.
	ErrDuplicateSlug = errors.New("grantkit: slug already exists")

	// ErrGiverNotRegistered is returned by explicit giver lookups when the
	// giver's type tag has no registered lookup function.
	ErrGiverNotRegistered = errors.New("grantkit: giver type not registered")

	// ErrGiverNotFound is returned by explicit giver lookups when the
	// registered lookup cannot find the entity.
	ErrGiverNotFound = errors.New("grantkit: giver not found")

	// ErrStoreError is returned when a store operation fails; the dbkit
	// error detail is attached via wrapping.
	ErrStoreError = errors.New("grantkit: store error")
)

// Error wraps a sentinel error with the entities involved.
type Error struct {
	Err       error  // underlying sentinel error
	Message   string // additional context
	Role      string // role slug involved, if any
	Perm      string // permission identifier involved, if any
	Principal string // principal token involved, if any
	Giver     string // giver token involved, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithRole adds the role slug to the error.
func (e *Error) WithRole(slug string) *Error {
	e.Role = slug
	return e
}

// WithPermission adds the permission identifier to the error.
func (e *Error) WithPermission(identifier string) *Error {
	e.Perm = identifier
	return e
}

// WithPrincipal adds the principal to the error.
func (e *Error) WithPrincipal(p Principal) *Error {
	e.Principal = p.Type + ":" + p.ID
	return e
}

// WithGiver adds the giver token to the error.
func (e *Error) WithGiver(g Giver) *Error {
	e.Giver = g.String()
	return e
}

// IsNotFound checks if an error is a role, permission or giver lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrPermissionNotFound) ||
		errors.Is(err, ErrGiverNotFound)
}

// IsDuplicateSlug checks if an error is a slug uniqueness violation.
func IsDuplicateSlug(err error) bool {
	return errors.Is(err, ErrDuplicateSlug)
}
