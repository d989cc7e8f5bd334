package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrResetRequired         = errors.New("password reset required")
	ErrDuplicateIdentity     = errors.New("identity already exists")
	ErrInvalidOrExpiredToken = errors.New("token is invalid or has expired")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrForbidden             = errors.New("permission denied")
	ErrNotFound              = errors.New("identity not found")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrDeliveryFailed        = errors.New("email delivery failed")
	ErrInternal              = errors.New("internal error")

	// ErrSuperAdminExists is also an ErrDuplicateIdentity.
	ErrSuperAdminExists = fmt.Errorf("%w: only one superadmin can exist", ErrDuplicateIdentity)
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Kind names the error's category with a stable snake_case code.
func Kind(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid_input"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrResetRequired):
		return "reset_required"
	case errors.Is(err, ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_token"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	}
	return "internal"
}
