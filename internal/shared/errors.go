package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when the caller lacks the admin flag.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated is returned when no valid session is presented.
	ErrUnauthenticated = errors.New("not authenticated")
)

// ValidationError rejects caller input before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
