/*
errors.go - Infrastructure-level error sentinels and outcome classification

PURPOSE:
  Sentinels shared by the stores and the billing package. The billing
  package wraps these with domain context (which society, which lot, which
  member) using structured error types whose Unwrap returns one of these.

ERROR CATEGORIES:
  1. Validation errors - the request was wrong, nothing changed
  2. Conflict errors   - a uniqueness rule rejected the write
  3. Transient errors  - a concurrent writer won; retry with fresh data
  4. Not found

CALLER CONTRACT:
  The web layer never inspects error strings. It calls Classify(err) and
  gets one of four outcomes telling it whether to show a validation
  message, ask the operator to retry, or report an internal failure.

SEE ALSO:
  - billing/errors.go: ConfigurationError, DuplicateLotError, MemberDataError
  - api/handlers.go: outcome -> HTTP status mapping
*/
package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPeriod is returned when a period is malformed (end not after start).
	ErrInvalidPeriod = errors.New("invalid period: end must be after start")

	// ErrInvalidInput is returned for malformed request values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration is returned when society billing configuration is missing or invalid.
	ErrConfiguration = errors.New("invalid billing configuration")

	// ErrDuplicateLot is returned when a bill lot is already published for the society.
	ErrDuplicateLot = errors.New("bill lot already published")

	// ErrMemberData is returned when one member's billing data is malformed.
	ErrMemberData = errors.New("malformed member billing data")

	// ErrDuplicate is returned by stores when a unique key is violated.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidTransition is returned when a state machine rejects a move.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// OUTCOME CLASSIFICATION
// =============================================================================

// Outcome tells the caller what to do with a result.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeValidationFailed Outcome = "validation_failed" // nothing changed
	OutcomeTransient        Outcome = "transient"         // retry with fresh data
	OutcomeNotFound         Outcome = "not_found"
	OutcomeInternal         Outcome = "internal"
)

// Classify maps an error onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsRetryable(err):
		return OutcomeTransient
	case IsNotFound(err):
		return OutcomeNotFound
	case IsClientError(err):
		return OutcomeValidationFailed
	default:
		return OutcomeInternal
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid input or
// configuration and nothing was persisted.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrDuplicateLot) ||
		errors.Is(err, ErrMemberData) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
