/*
errors.go - Error taxonomy for the billing engine

ERROR CATEGORIES:
  1. Validation - malformed or out-of-range calculator input. Surfaced
     immediately, never silently defaulted.
  2. State      - operating on an entity in a terminal or inconsistent state
     (double cancellation, pausing a withdrawn student). Not retried.
  3. Dependency - persistence failures. Interactive callers surface them;
     the batch records them per student and moves on.

USAGE:
  if errors.Is(err, academy.ErrValidation) { ... 400 ... }
  var se *academy.StateError
  if errors.As(err, &se) { ... se.State ... }
*/
package academy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyCancelled is returned when cancelling a cancelled enrollment.
	ErrAlreadyCancelled = errors.New("enrollment already cancelled")

	// ErrAlreadyEnrolled is returned when a student has a live enrollment in the season.
	ErrAlreadyEnrolled = errors.New("student already enrolled in season")

	ErrDependency = errors.New("dependency failure")

	ErrNotFound = errors.New("not found")

	// ErrDuplicatePayment is returned by a PaymentStore when a payment for the
	// same (student, year-month, charge type) already exists.
	ErrDuplicatePayment = errors.New("payment already exists for student and month")

	// ErrConcurrentModification is returned when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes rejected calculator or request input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateError describes an operation refused because of an entity's state.
type StateError struct {
	Entity string
	ID     string
	State  string
	Op     string
	Err    error // more specific sentinel, optional
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %q", e.Op, e.Entity, e.ID, e.State)
}

func (e *StateError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidState, e.Err}
	}
	return []error{ErrInvalidState}
}

// DependencyError wraps a persistence failure with the operation that failed.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() []error { return []error{ErrDependency, e.Err} }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Dependency wraps err as a DependencyError unless it already carries a
// classification (validation, state, not found, duplicate, conflict).
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicatePayment) || errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrDependency) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicatePayment)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
