// Package businessflow contains the core business logic: permissions, account lifecycle and reconciliation
package businessflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the transport boundary
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindConflict     ErrorKind = "CONFLICT"
	KindBadRequest   ErrorKind = "BAD_REQUEST"
	KindInternal     ErrorKind = "INTERNAL"
)

// Kind sentinels. Every specific error below wraps exactly one of them.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
)

// Business flow error constants
var (
	// Authentication
	ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", ErrUnauthorized)
	ErrNotAnAdmin         = fmt.Errorf("only admins may sign in: %w", ErrUnauthorized)
	ErrCredentialExpired  = fmt.Errorf("credential has expired: %w", ErrUnauthorized)
	ErrCredentialInvalid  = fmt.Errorf("credential is invalid: %w", ErrUnauthorized)
	ErrCredentialRequired = fmt.Errorf("credential is required: %w", ErrUnauthorized)

	// Authorization
	ErrPermissionDenied       = fmt.Errorf("permission denied: %w", ErrForbidden)
	ErrUnlimitedMainAdminOnly = fmt.Errorf("only unlimited admins of a main account may do this: %w", ErrForbidden)

	// Lookups
	ErrAccountNotFound       = fmt.Errorf("account not found: %w", ErrNotFound)
	ErrParentAccountNotFound = fmt.Errorf("parent account not found: %w", ErrNotFound)
	ErrUserNotFound          = fmt.Errorf("user not found: %w", ErrNotFound)
	ErrPrimaryAdminNotFound  = fmt.Errorf("primary admin not found: %w", ErrNotFound)

	// Conflicts
	ErrEmailAlreadyExists  = fmt.Errorf("email already exists: %w", ErrConflict)
	ErrConcurrentReassign  = fmt.Errorf("user was reassigned concurrently: %w", ErrConflict)
	ErrNoSurvivingAncestor = fmt.Errorf("no surviving ancestor account to receive users: %w", ErrConflict)

	// Validation
	ErrInvalidAccountType     = fmt.Errorf("invalid account type: %w", ErrBadRequest)
	ErrAccountTypeAboveParent = fmt.Errorf("account type must not be less specific than its parent: %w", ErrBadRequest)
	ErrMainAccountCreation    = fmt.Errorf("main accounts cannot be created under a parent: %w", ErrBadRequest)
	ErrInvalidRole            = fmt.Errorf("invalid role: %w", ErrBadRequest)
	ErrInvalidAdminType       = fmt.Errorf("invalid admin type: %w", ErrBadRequest)
	ErrEmptyName              = fmt.Errorf("name must not be empty after sanitizing: %w", ErrBadRequest)
	ErrPasswordTooLong        = fmt.Errorf("password must not exceed 72 bytes: %w", ErrBadRequest)

	// Reconciliation
	ErrLegacyAuthFailed  = errors.New("legacy api authentication failed")
	ErrLegacyFetchFailed = errors.New("legacy api fetch failed")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// KindOf classifies err. Anything not wrapping a kind sentinel is internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	default:
		return KindInternal
	}
}

// PublicMessage returns text that is safe to show a client
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		return "Internal server error"
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

func IsEmailAlreadyExists(err error) bool {
	return errors.Is(err, ErrEmailAlreadyExists)
}
