package sync

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable means the store kept refusing part of a batch read
// after the retry budget ran out.
var ErrStoreUnavailable = errors.New("record store unavailable")

// ValidationError describes a request the engine refuses to run. The
// message is safe to return to the caller.
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

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
