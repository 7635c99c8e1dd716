/*
errors.go - Centralized error taxonomy for the settlement engine

PURPOSE:
  All error types in one place. A failed calculation must tell the caller
  which rule failed and on which input field, so every structured error
  carries that context and unwraps to a sentinel usable with errors.Is.

ERROR CATEGORIES:
  1. ValidationError       - negative or impossible inputs
  2. PolicyNotFoundError   - no sales incentive band for a sales count
  3. LockedPeriodError     - recompute/mutate of a locked payroll result
  4. InconsistentStateError - deal ownership changed under the calculation

RETRIES:
  The engine never retries. It is synchronous and stateless; retry policy
  belongs to the caller around its own I/O.

SEE ALSO:
  - payrun/service.go: wraps store failures with context
  - api/handlers.go: maps categories to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every input/rule violation.
	ErrValidation = errors.New("validation failed")

	// ErrPolicyNotFound is returned when no SalesIncentivePolicy band matches.
	// The absence is surfaced, never defaulted to zero incentive.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrLockedPeriod is returned when a locked payroll result would change.
	ErrLockedPeriod = errors.New("payroll period is locked")

	// ErrInconsistentState signals a race with the ownership-transfer job.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransition is returned when a lifecycle event is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry rule and field context
// =============================================================================

// ValidationError names the rule that failed and the field it failed on.
type ValidationError struct {
	Field   string
	Rule    string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation failed on %s (%s): %s [value=%s]", e.Field, e.Rule, e.Message, e.Value)
	}
	return fmt.Sprintf("validation failed on %s (%s): %s", e.Field, e.Rule, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, rule, value, message string) *ValidationError {
	return &ValidationError{Field: field, Rule: rule, Value: value, Message: message}
}

// PolicyNotFoundError reports a sales count with no matching incentive band.
type PolicyNotFoundError struct {
	Role       Role
	SalesCount int
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("no sales incentive policy for role %q with %d sales", e.Role, e.SalesCount)
}

func (e *PolicyNotFoundError) Unwrap() error { return ErrPolicyNotFound }

// LockedPeriodError reports an attempt to recompute a locked result.
type LockedPeriodError struct {
	EmployeeID EmployeeID
	Period     Period
	Revision   int
}

func (e *LockedPeriodError) Error() string {
	return fmt.Sprintf("payroll for %s in %s is locked (revision %d)", e.EmployeeID, e.Period, e.Revision)
}

func (e *LockedPeriodError) Unwrap() error { return ErrLockedPeriod }

// InconsistentStateError reports a deal whose claimed owner is not the current owner.
type InconsistentStateError struct {
	DealID  DealID
	Claimed EmployeeID
	Current EmployeeID
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("deal %s claims owner %s but current owner is %s", e.DealID, e.Claimed, e.Current)
}

func (e *InconsistentStateError) Unwrap() error { return ErrInconsistentState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidTransition)
}

// IsConflict returns true if the error reflects state held elsewhere.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLockedPeriod) ||
		errors.Is(err, ErrInconsistentState) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record or policy band.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrPolicyNotFound)
}
