package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested document does not exist in the
// anchor store.
var ErrNotFound = errors.New("not found")

// ErrAdapterUnavailable marks a transient engine failure. The repository
// retries these with backoff before surfacing them.
var ErrAdapterUnavailable = errors.New("adapter unavailable")

// ErrInconsistent marks a cross-engine mismatch: data present in one engine
// but absent in another. Callers log it and degrade rather than fail.
var ErrInconsistent = errors.New("inconsistent state")

// ErrInvalidArgument is returned for semantically invalid inputs.
var ErrInvalidArgument = errors.New("invalid argument")

// ValidationError describes which document field failed validation.
// It unwraps to ErrInvalidArgument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrAdapterUnavailable)
}
