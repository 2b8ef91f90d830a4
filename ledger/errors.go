/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error kinds in one place. Callers match with errors.Is / errors.As;
  the HTTP layer maps them to status codes.

ERROR CATEGORIES:
  1. Missing references  - ErrNotFound, ErrInvalidProduct, ErrInvalidInstallment
  2. Business rules      - ErrInsufficientStock, ErrInvalidAmount, ErrInvalidContract
  3. Concurrency         - ErrConcurrentModification (retryable)

NOTE:
  A payment against a fully paid installment is NOT an error. It returns a
  PaymentResult with AlreadySettled set and AppliedCents == 0 so retries are
  safe.
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
	// ErrNotFound is returned when a referenced contract or payment doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidProduct is returned when a contract line references an unknown product.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrInvalidInstallment is returned when a payment targets an unknown installment.
	ErrInvalidInstallment = errors.New("invalid installment")

	// ErrInsufficientStock is returned when a line quantity exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidAmount is returned for non-positive payments or an installment
	// amount edited below what was already paid.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidContract is returned when a contract request is malformed.
	ErrInvalidContract = errors.New("invalid contract")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrConcurrentModification is returned when a guarded update lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientStockError carries the product that could not be decremented.
type InsufficientStockError struct {
	ProductID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidProduct)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInstallment)
}

// Kind returns a short machine-readable name for an error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidProduct):
		return "invalid_product"
	case errors.Is(err, ErrInvalidInstallment):
		return "invalid_installment"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidContract):
		return "invalid_contract"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	default:
		return "internal"
	}
}
