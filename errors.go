package credits

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// Account errors
	ErrAccountNotFound     = errors.New("credits: account not found")
	ErrAccountExists       = errors.New("credits: account already exists")
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrBalanceOverflow     = errors.New("credits: balance would overflow")

	// Validation errors
	ErrInvalidInput  = errors.New("credits: invalid input")
	ErrInvalidAmount = errors.New("credits: amount must be a positive integer")
	ErrInvalidReason = errors.New("credits: unknown replenishment reason")
	ErrInvalidPlan   = errors.New("credits: unknown plan")

	// Ledger errors
	ErrUsageNotFound = errors.New("credits: usage record not found")

	// Store errors
	ErrStoreClosed = errors.New("credits: store is closed")
)

// ValidationError reports input rejected before any store access.
// It matches ErrInvalidInput and, when set, the more specific Cause.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap exposes ErrInvalidInput and the specific cause to errors.Is.
func (e *ValidationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrInvalidInput, e.Cause}
	}
	return []error{ErrInvalidInput}
}

func invalid(field, message string, cause error) error {
	return &ValidationError{Field: field, Message: message, Cause: cause}
}

// IsNotFound returns true for missing accounts or ledger records.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrUsageNotFound)
}

// IsValidation returns true if err was raised by input validation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
