/*
errors.go - Centralized error types for the inventory engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the API layer maps these to
  HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - malformed requests, same-holder transfers
  2. Stock errors - insufficient quantity, explicit lot shortfalls
  3. Policy errors - unauthorized negative-stock overrides
  4. Concurrency errors - optimistic conflicts after retries exhausted

SEE ALSO:
  - transfer.go: Raises most of these
  - api/handlers.go: Maps them to HTTP responses
*/
package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing request fields,
	// including transfers where source and destination are the same holder.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidHolder is returned for holder references that break the
	// per-type id rule (STORE carries no id, everything else requires one).
	ErrInvalidHolder = errors.New("invalid holder reference")

	// ErrIncompatibleUnit is returned when a requested unit belongs to a
	// different physical dimension than the item's base unit.
	ErrIncompatibleUnit = errors.New("incompatible unit")

	// ErrUnknownUnit is returned when a unit code or alias is not registered.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrContainerRequired is returned when a controlled or container-tracked
	// item is transferred without naming a container.
	ErrContainerRequired = errors.New("container required")

	// ErrInsufficientStock is returned when the source holder lacks quantity
	// and no override is in effect.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientLotStock is returned when an explicitly chosen lot cannot
	// cover the request. An explicit lot choice is binding: no substitution.
	ErrInsufficientLotStock = errors.New("insufficient stock in selected lot")

	// ErrForbiddenOverride is returned when allowNegative is set by a caller
	// without elevated privilege.
	ErrForbiddenOverride = errors.New("negative stock override not permitted")

	// ErrConcurrencyConflict is returned when optimistic retries are exhausted.
	// Transient; the engine retries internally before surfacing it.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger write reuses a
	// client-supplied idempotency key. Expected behavior for blind retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrItemNotFound is returned when a referenced item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrLotNotFound is returned when a referenced lot does not exist.
	ErrLotNotFound = errors.New("lot not found")

	// ErrContainerNotFound is returned when a referenced container does not exist.
	ErrContainerNotFound = errors.New("container not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports a source-side shortfall with the quantity
// that was actually available, for caller display.
type InsufficientStockError struct {
	ItemID    ItemID
	Holder    HolderRef
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s at %s: requested %s, available %s",
		e.ItemID, e.Holder, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientLotStockError reports a shortfall against an explicitly chosen lot.
type InsufficientLotStockError struct {
	ItemID    ItemID
	LotID     LotID
	Holder    HolderRef
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLotStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s in lot %s at %s: requested %s, available %s",
		e.ItemID, e.LotID, e.Holder, e.Requested, e.Available)
}

func (e *InsufficientLotStockError) Unwrap() error { return ErrInsufficientLotStock }

// IncompatibleUnitError reports a cross-dimension conversion attempt.
type IncompatibleUnitError struct {
	Requested UnitCode
	BaseUOM   UnitCode
	Group     UnitGroup
	BaseGroup UnitGroup
}

func (e *IncompatibleUnitError) Error() string {
	return fmt.Sprintf("unit %s (%s) is incompatible with base unit %s (%s)",
		e.Requested, e.Group, e.BaseUOM, e.BaseGroup)
}

func (e *IncompatibleUnitError) Unwrap() error { return ErrIncompatibleUnit }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input or
// routine operational conditions the caller must be shown specifically.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidHolder) ||
		errors.Is(err, ErrIncompatibleUnit) ||
		errors.Is(err, ErrUnknownUnit) ||
		errors.Is(err, ErrContainerRequired) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientLotStock) ||
		errors.Is(err, ErrForbiddenOverride) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrContainerNotFound)
}
