/*
errors.go - Centralized error types for the points ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Operation packages (redeem, shop, grants, migrate) wrap these with
  additional context.

ERROR CATEGORIES (matching the operation surface's contract):
  1. Validation - malformed input, rejected before any transaction
  2. Not-found  - unknown account/code/product/purchase
  3. Conflict   - already-used code, insufficient stock, self-redemption
  4. Policy     - restricted account, maintenance mode, shop disabled
  5. Transient  - optimistic-concurrency conflict, retry budget exhausted

  Only transient errors are safe to retry. Everything else is
  deterministic and must surface to the caller unchanged.

USAGE:
  if errors.Is(err, ledger.ErrCodeAlreadyUsed) { ... }

SEE ALSO:
  - store.go: Atomically retries on IsRetryable errors
  - api/handlers.go: Maps categories to HTTP status codes
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
	// Validation
	ErrInvalidAmount = errors.New("amount must be a positive integer")
	ErrInvalidCode   = errors.New("code is malformed")
	ErrInvalidTarget = errors.New("target account id is malformed")

	// Not-found
	ErrAccountNotFound   = errors.New("account not found")
	ErrCodeNotFound      = errors.New("code not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrPurchaseNotFound  = errors.New("purchase not found")
	ErrLetterNotFound    = errors.New("letter not found")
	ErrTeamNotFound      = errors.New("team not found")
	ErrMigrationNotFound = errors.New("no migration to revert")

	// Conflict
	ErrCodeAlreadyUsed     = errors.New("code already used")
	ErrSelfRedemption      = errors.New("cannot redeem your own code")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrAlreadyApproved     = errors.New("letter already approved")
	ErrBonusAlreadyPaid    = errors.New("team bonus already paid")
	ErrAlreadyMember       = errors.New("already a member of this team")
	ErrTeamFull            = errors.New("team is already complete")
	ErrTeamExists          = errors.New("team already exists")
	ErrDisputeState        = errors.New("dispute is not in the required state")
	ErrMigrationPending    = errors.New("an identical migration is already pending")
	ErrMigrationReverted   = errors.New("migration already reverted")

	// Policy
	ErrAccountRestricted = errors.New("account is restricted")
	ErrMaintenanceMode   = errors.New("platform is in maintenance mode")
	ErrShopDisabled      = errors.New("shop is disabled")

	// Transient
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrRetryExhausted         = errors.New("transaction retry budget exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage on a debit.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Required  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.Available, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InsufficientStockError reports the item that sank a purchase.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// RestrictedError reports why and until when an account is restricted.
type RestrictedError struct {
	AccountID AccountID
	Reason    string
	Until     string
}

func (e *RestrictedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("account %s is restricted until %s: %s", e.AccountID, e.Until, e.Reason)
	}
	return fmt.Sprintf("account %s is restricted until %s", e.AccountID, e.Until)
}

func (e *RestrictedError) Unwrap() error { return ErrAccountRestricted }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole transaction may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrLetterNotFound) ||
		errors.Is(err, ErrTeamNotFound) ||
		errors.Is(err, ErrMigrationNotFound)
}

// IsConflict returns true for deterministic business-rule collisions.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCodeAlreadyUsed) ||
		errors.Is(err, ErrSelfRedemption) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadyApproved) ||
		errors.Is(err, ErrBonusAlreadyPaid) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrTeamFull) ||
		errors.Is(err, ErrTeamExists) ||
		errors.Is(err, ErrDisputeState) ||
		errors.Is(err, ErrMigrationPending) ||
		errors.Is(err, ErrMigrationReverted)
}

// IsPolicy returns true for platform-policy rejections.
func IsPolicy(err error) bool {
	return errors.Is(err, ErrAccountRestricted) ||
		errors.Is(err, ErrMaintenanceMode) ||
		errors.Is(err, ErrShopDisabled)
}

// IsValidation returns true for malformed-input rejections.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalidTarget)
}
