/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
  1. Validation errors  - rejected before any write (InvalidAmount)
  2. Business outcomes  - expected, returned to the caller unmodified
     (UserNotFound, InsufficientBalance)
  3. Consistency errors - internal invariant violations, treated as fatal
  4. Store errors       - transient persistence failures, safe to retry

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

  var ib *ledger.InsufficientBalanceError
  if errors.As(err, &ib) { ib.Available, ib.Requested }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount or duration is not positive.
	// Rejected before any write.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUserNotFound is returned when an operation addresses a user with no
	// ledger history.
	ErrUserNotFound = errors.New("user not found")

	// ErrMissingUserID is returned when an operation is called with an empty
	// user id. A validation failure, distinct from a user that simply has no
	// ledger history.
	ErrMissingUserID = errors.New("user id is required")

	// ErrInsufficientBalance is returned when a redemption requests more than
	// the total available balance. No records are written.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConsistencyViolation indicates the consume loop exhausted credits
	// without satisfying a pre-validated request. Never expected to fire;
	// treated as a fatal consistency bug, not a user-facing outcome.
	ErrConsistencyViolation = errors.New("ledger consistency violation")

	// ErrMissingSourceCredit is returned when a debit is built without the
	// credit it consumes from.
	ErrMissingSourceCredit = errors.New("debit requires a source credit")

	// ErrStoreUnavailable wraps transient persistence failures. The whole
	// operation is safe to retry; each write step is atomic so there are no
	// partial writes to clean up.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError reports a non-positive amount or duration.
type InvalidAmountError struct {
	Field string
	Value int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid %s: must be positive (got %d)", e.Field, e.Value)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// UserNotFoundError names the missing user.
type UserNotFoundError struct {
	UserID string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user not found: %s", e.UserID)
}

func (e *UserNotFoundError) Unwrap() error { return ErrUserNotFound }

// InsufficientBalanceError carries the available and requested amounts for
// caller messaging.
type InsufficientBalanceError struct {
	UserID    string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: available %d, requested %d",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is an expected business outcome
// caused by the caller's input, not a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingUserID) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing user.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
