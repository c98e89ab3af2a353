package service

import (
	"errors"
	"fmt"

	"github.com/jask/saldo/internal/database/repository"
)

var (
	// ErrValidation marks input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to a row that does not exist.
	ErrNotFound = repository.ErrNotFound
	// ErrServiceUnavailable is returned when every LLM candidate failed.
	ErrServiceUnavailable = errors.New("insight service unavailable")
	// ErrRateLimited is returned when a session exceeds its insight budget.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// duplicateAsInvalid turns a unique-constraint rejection into a validation error.
func duplicateAsInvalid(err error, field string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return invalid(field, "already exists")
	}
	return err
}
