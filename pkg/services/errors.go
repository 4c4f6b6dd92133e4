// Package services provides the automation authoring and publishing operations.
package services

import (
	"errors"
	"fmt"

	"github.com/ogabrielsv/creatye/pkg/flow"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNameRequired      = errors.New("automation name is required")
	ErrEmptyOwnerID      = errors.New("owner ID cannot be empty")
	ErrInvalidChannel    = errors.New("invalid channel")
	ErrInvalidTrigger    = errors.New("invalid trigger")
	ErrInvalidGraph      = errors.New("invalid flow graph")
	ErrStartNodeRequired = flow.ErrStartNodeRequired

	// Business Logic Conflicts (409 Conflict).
	ErrNotPublished = errors.New("automation is not published")
	ErrNotPaused    = errors.New("automation is not paused")

	// ErrAutomationNotFound is returned when an automation is not found.
	ErrAutomationNotFound = persistence.ErrAutomationNotFound
	ErrExecutionNotFound  = persistence.ErrExecutionNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
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

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	var graphErr *flow.ValidationError
	if errors.As(err, &graphErr) {
		return true
	}

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrInvalidChannel) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidGraph)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotPublished) ||
		errors.Is(err, ErrNotPaused)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
