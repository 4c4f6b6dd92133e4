// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found or is soft-deleted.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrVersionNotFound indicates a version was not found by the given identifier.
	ErrVersionNotFound = errors.New("version not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrJobNotFound indicates a job was not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotClaimed indicates a job left the processing state, e.g. its claim expired
	// and it was requeued, before it could be completed.
	ErrJobNotClaimed = errors.New("job is no longer claimed")

	// ErrCredentialNotFound indicates no credential is stored for the owner or account.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrInboundEventNotFound indicates an inbound event was not found.
	ErrInboundEventNotFound = errors.New("inbound event not found")
)

// EntityError wraps repository errors with the operation and the entity involved.
type EntityError struct {
	Op     string // Operation being performed (e.g., "AutomationByID", "PublishVersion")
	Entity string // Entity kind (automation, version, execution, job, credential)
	ID     string // Entity ID if applicable
	Err    error  // Underlying error
}

func (e *EntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, id string, err error) *EntityError {
	return &EntityError{
		Op:     op,
		Entity: entity,
		ID:     id,
		Err:    err,
	}
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, ErrInboundEventNotFound)
}

// IsAutomationNotFound checks if an error indicates an automation was not found.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsCredentialNotFound checks if an error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}
