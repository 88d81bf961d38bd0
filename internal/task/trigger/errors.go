package trigger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalid         = errors.New("invalid trigger")
	ErrCronUnsupported = errors.New("cron expressions are not supported")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trigger: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
