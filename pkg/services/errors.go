// Package services implements the business operations behind the API.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. Validation errors map to 400, conflicts to 409 and
// state errors to 422 at the HTTP layer.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrProjectRequired    = errors.New("project ID cannot be empty")
	ErrDocumentRequired   = errors.New("workflow document cannot be empty")
	ErrEventNotAllowed    = errors.New("event does not trigger this workflow")
	ErrDefinitionDisabled = errors.New("workflow definition is disabled")
	ErrRunNotCancellable  = errors.New("run is already in a terminal state")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrProjectRequired) ||
		errors.Is(err, ErrDocumentRequired)
}

// IsStateError checks if an error should map to HTTP 422: the request was
// well-formed but the target's current state rejects it.
func IsStateError(err error) bool {
	return errors.Is(err, ErrEventNotAllowed) ||
		errors.Is(err, ErrDefinitionDisabled) ||
		errors.Is(err, ErrRunNotCancellable)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Message: message, Err: err}
}
