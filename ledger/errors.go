/*
errors.go - Centralized error types for the wallet ledger

PURPOSE:
  All expected ledger outcomes in one place. Every failure surfaces a
  specific, distinguishable reason so the attendant-facing flow can tell
  "wrong PIN" apart from "already used" apart from "expired".

PROPAGATION POLICY:
  These are typed business outcomes returned to the caller, never swallowed
  and never retried automatically - retrying a convert on InsufficientFunds
  or a redeem on TokenAlreadyConsumed would be incorrect; the caller must
  re-decide. The one component allowed to degrade silently is the advisor
  (advisor.go), whose output is advisory only.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientFunds) { ... }

  var insufficientErr *ledger.InsufficientFundsError
  if errors.As(err, &insufficientErr) {
      show(insufficientErr.Shortfall)
  }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrWalletNotFound is returned when no wallet exists for the customer.
	// Fatal to the calling operation, not retryable.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrCustomerNotFound is returned when a referenced customer doesn't exist.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrDuplicateTaxID is returned when registering a customer whose
	// national tax id is already taken.
	ErrDuplicateTaxID = errors.New("duplicate tax id")

	// ErrInsufficientFunds is returned when a conversion would drive the
	// money balance negative, evaluated at mutation time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientFuelBalance is returned when token issuance would drive
	// a litre balance negative, evaluated at mutation time.
	ErrInsufficientFuelBalance = errors.New("insufficient fuel balance")

	// ErrTokenNotFound is returned for an unknown or out-of-scope credential.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when the credential's window has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenAlreadyConsumed is returned when a concurrent redemption (or a
	// prior cancel) won the race. This is a normal business outcome, not an
	// application bug.
	ErrTokenAlreadyConsumed = errors.New("token already consumed")

	// ErrInvalidGrade is returned for a grade code outside the closed set.
	ErrInvalidGrade = errors.New("invalid fuel grade")

	// ErrInvalidAmount is returned for amounts that are not positive or
	// exceed the supported decimal precision.
	ErrInvalidAmount = errors.New("invalid amount")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details a money-balance shortage.
type InsufficientFundsError struct {
	CustomerID CustomerID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available.StringFixed(MoneyScale), e.Requested.StringFixed(MoneyScale))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Shortfall returns how much is missing.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// InsufficientFuelError details a litre-balance shortage for one grade.
type InsufficientFuelError struct {
	CustomerID CustomerID
	Grade      FuelGrade
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientFuelError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s L, requested %s L",
		e.Grade, e.Available.StringFixed(LitresScale), e.Requested.StringFixed(LitresScale))
}

func (e *InsufficientFuelError) Unwrap() error { return ErrInsufficientFuelBalance }

// TokenUnavailableError reports why a redemption or cancellation lost:
// the token already left PENDING, or is still PENDING but past its window.
type TokenUnavailableError struct {
	ID      TokenID
	Status  TokenStatus
	Expired bool
}

func (e *TokenUnavailableError) Error() string {
	if e.Unwrap() == ErrTokenExpired {
		return fmt.Sprintf("token %s expired", e.ID)
	}
	return fmt.Sprintf("token %s already consumed (status %s)", e.ID, e.Status)
}

func (e *TokenUnavailableError) Unwrap() error {
	if e.Status == TokenExpired || (e.Status == TokenPending && e.Expired) {
		return ErrTokenExpired
	}
	return ErrTokenAlreadyConsumed
}

// InvalidGradeError reports a grade code outside the closed enumeration.
type InvalidGradeError struct {
	Code string
}

func (e *InvalidGradeError) Error() string {
	return fmt.Sprintf("invalid fuel grade %q", e.Code)
}

func (e *InvalidGradeError) Unwrap() error { return ErrInvalidGrade }

// InvalidAmountError reports a non-positive or over-precise amount.
type InvalidAmountError struct {
	Field string
	Value decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Value.String())
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a user-correctable outcome.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientFuelBalance) ||
		errors.Is(err, ErrInvalidGrade) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateTaxID)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTokenNotFound)
}

// IsConflict returns true for lost-the-race outcomes on token transitions.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTokenAlreadyConsumed) ||
		errors.Is(err, ErrTokenExpired)
}
