/*
account.go - Account Store primitives (transaction-scoped)

PURPOSE:
  Credit and Debit are the only two functions that change a balance, and
  they are callable ONLY with an open Tx owned by a higher-level
  operation. After either returns, the balance reflects the exact change
  and the matching Entry is in the same transaction - or, if the
  transaction aborts, neither is.

CREDIT PATH:
  Every credit goes through the Limit Policy Enforcer. The circulating
  portion lands on the balance with a visible entry; any overflow is
  written as a second entry flagged ExcludedFromCirculation.

DEBIT PATH:
  Debits never drive the balance negative; a shortage aborts the
  transaction with InsufficientBalanceError.

SEE ALSO:
  - limits.go: PlanCredit
  - store.go: Tx contract
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CREDIT
// =============================================================================

// CreditResult reports how a credit split across balance and piggy bank.
type CreditResult struct {
	Credited int64
	Overflow int64
}

// Credit applies a capped credit to the account inside tx.
// It must not be called with amount <= 0.
func Credit(tx Tx, id AccountID, amount int64, description string, now time.Time) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}

	acct, err := tx.Account(id)
	if err != nil {
		return CreditResult{}, err
	}
	settings, err := tx.Settings()
	if err != nil {
		return CreditResult{}, err
	}

	plan := PlanCredit(acct, amount, settings, now)

	acct.Balance += plan.Credited
	acct.DailyEarned = plan.DailyEarned
	acct.DailyEarnedDate = plan.DailyEarnedDate
	if err := tx.PutAccount(acct); err != nil {
		return CreditResult{}, err
	}

	if plan.Credited > 0 {
		if err := tx.AppendEntry(Entry{
			ID:          uuid.NewString(),
			AccountID:   id,
			Amount:      plan.Credited,
			Kind:        EntryCredit,
			Description: description,
			CreatedAt:   now,
		}); err != nil {
			return CreditResult{}, err
		}
	}
	if plan.Overflow > 0 {
		if err := tx.AppendEntry(Entry{
			ID:                      uuid.NewString(),
			AccountID:               id,
			Amount:                  plan.Overflow,
			Kind:                    EntryCredit,
			Description:             description + " (piggy bank)",
			ExcludedFromCirculation: true,
			CreatedAt:               now,
		}); err != nil {
			return CreditResult{}, err
		}
	}

	return CreditResult{Credited: plan.Credited, Overflow: plan.Overflow}, nil
}

// CreditUncapped applies a credit that bypasses the limit enforcer.
// Used for refunds, which restore previously spent points rather than
// award new earnings.
func CreditUncapped(tx Tx, id AccountID, amount int64, description string, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	acct, err := tx.Account(id)
	if err != nil {
		return err
	}
	acct.Balance += amount
	if err := tx.PutAccount(acct); err != nil {
		return err
	}

	return tx.AppendEntry(Entry{
		ID:          uuid.NewString(),
		AccountID:   id,
		Amount:      amount,
		Kind:        EntryCredit,
		Description: description,
		CreatedAt:   now,
	})
}

// =============================================================================
// DEBIT
// =============================================================================

// Debit removes amount from the account inside tx.
// The balance never goes negative.
func Debit(tx Tx, id AccountID, amount int64, description string, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	acct, err := tx.Account(id)
	if err != nil {
		return err
	}
	if acct.Balance < amount {
		return &InsufficientBalanceError{
			AccountID: id,
			Available: acct.Balance,
			Required:  amount,
		}
	}

	acct.Balance -= amount
	if err := tx.PutAccount(acct); err != nil {
		return err
	}

	return tx.AppendEntry(Entry{
		ID:          uuid.NewString(),
		AccountID:   id,
		Amount:      -amount,
		Kind:        EntryDebit,
		Description: description,
		CreatedAt:   now,
	})
}

// =============================================================================
// GUARDS - Shared policy checks for mutating operations
// =============================================================================

// EnsureActive rejects operations on a restricted account.
func EnsureActive(acct *Account, now time.Time) error {
	if !acct.Restricted(now) {
		return nil
	}
	until := ""
	if acct.RestrictedUntil != nil {
		until = acct.RestrictedUntil.UTC().Format(time.RFC3339)
	}
	return &RestrictedError{
		AccountID: acct.ID,
		Reason:    acct.RestrictionReason,
		Until:     until,
	}
}

// EnsureOperational rejects mutations while the platform is in
// maintenance mode, except for admins.
func EnsureOperational(s Settings, role Role) error {
	if s.MaintenanceMode && role != RoleAdmin {
		return ErrMaintenanceMode
	}
	return nil
}
