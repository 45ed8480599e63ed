package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrQueryTooLarge is returned when the estimated row count exceeds the cap
	ErrQueryTooLarge = errors.New("query too large")

	// ErrNoDataInRange is returned when the filters match no rows
	ErrNoDataInRange = errors.New("no data in range")

	// ErrInvalidFilters is the default cause of a FieldError
	ErrInvalidFilters = errors.New("invalid filters")
)

// FieldError reports a validation failure on one filter field
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidFilters
	}
	return e.Err
}

func fieldError(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}
