/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The message of every sentinel is its wire code, so transports can
  report failures without keeping a second table of names.

ERROR CATEGORIES:
  1. Validation   - invalid_dates, invalid_range, invalid_year, ...
  2. Conflict     - overlap, invalid_state, concurrent modification
  3. Authorization - forbidden
  4. Lookup       - not_found
  5. Arguments    - invalid_argument, missing_comment

  Anything else is an internal error: it is surfaced without detail and
  logged for operators. The engine never retries on its own.

USAGE:
    if errors.Is(err, generic.ErrOverlap) {
        ...
    }
    code := generic.Code(err) // "overlap"

SEE ALSO:
  - ledger.go: Raises argument errors
  - timeoff/request.go: Raises lifecycle errors
  - api/handlers.go: Maps codes to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDates is returned when a date is missing or not YYYY-MM-DD.
	ErrInvalidDates = errors.New("invalid_dates")

	// ErrInvalidRange is returned when a period ends before it starts.
	ErrInvalidRange = errors.New("invalid_range")

	// ErrOverlap is returned when a period intersects another active request
	// of the same employee.
	ErrOverlap = errors.New("overlap")

	// ErrInvalidState is returned for a transition the current status does
	// not allow.
	ErrInvalidState = errors.New("invalid_state")

	// ErrForbidden is returned when the actor's role or department does not
	// permit the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a referenced request does not exist.
	ErrNotFound = errors.New("not_found")

	// ErrInvalidArgument is returned for malformed numeric input.
	ErrInvalidArgument = errors.New("invalid_argument")

	// ErrMissingComment is returned when an extra-days delta has no comment.
	ErrMissingComment = errors.New("missing_comment")

	// ErrMissingUser is returned when an employee id is empty.
	ErrMissingUser = errors.New("missing_user")

	// ErrInvalidYear is returned for a holiday year <= 0.
	ErrInvalidYear = errors.New("invalid_year")

	// ErrInvalidWorkingDays is returned when no weekday survives normalization.
	ErrInvalidWorkingDays = errors.New("invalid_working_days")

	// ErrMissingName is returned when a department has no name.
	ErrMissingName = errors.New("missing_name")

	// ErrConcurrentModification is returned when the store aborts a
	// transaction because a concurrent one touched the same rows.
	ErrConcurrentModification = errors.New("conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidArgumentError names the offending input field.
type InvalidArgumentError struct {
	Field string
	Value string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid_argument: %s=%q", e.Field, e.Value)
}

func (e *InvalidArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// TransitionError describes a lifecycle action attempted from the wrong status.
type TransitionError struct {
	RequestID string
	From      RequestStatus
	Action    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid_state: cannot %s request %s in status %s", e.Action, e.RequestID, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}

// OverlapError reports the period that collided with an active request.
type OverlapError struct {
	EmployeeID string
	Period     Period
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlap: %s already has an active request intersecting %s", e.EmployeeID, e.Period)
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlap
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

var coded = []error{
	ErrInvalidDates,
	ErrInvalidRange,
	ErrOverlap,
	ErrInvalidState,
	ErrForbidden,
	ErrNotFound,
	ErrInvalidArgument,
	ErrMissingComment,
	ErrMissingUser,
	ErrInvalidYear,
	ErrInvalidWorkingDays,
	ErrMissingName,
	ErrConcurrentModification,
}

// Code returns the wire code of err, or "internal" when err carries none.
func Code(err error) string {
	for _, sentinel := range coded {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal"
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDates) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrOverlap) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrMissingComment) ||
		errors.Is(err, ErrMissingUser) ||
		errors.Is(err, ErrInvalidYear) ||
		errors.Is(err, ErrInvalidWorkingDays) ||
		errors.Is(err, ErrMissingName)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden returns true if the actor lacks permission.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
