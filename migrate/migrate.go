/*
Package migrate implements the account-data migration and its one-shot
compensating revert.

PURPOSE:
  An admin occasionally has to transplant a student's ledger data onto a
  new identity (lost credentials, re-enrollment under a new ID). This is
  a destructive operation, so it is built as an explicit snapshot +
  compensating action rather than event-sourcing:

  Migrate(from, to):
    1. Snapshot both accounts (balance + entry count)
    2. COPY the source's ledger entries onto the target (fresh IDs,
       recorded on the migration record)
    3. Set target balance = source balance (copied, never summed) and
       zero the source
    4. Write the MigrationRecord

  RevertLastMigration():
    Restores both balances from the snapshots, removes exactly the
    entries the migration copied, and marks the record reverted so it
    can never be reverted twice.

  Only the MOST RECENT non-reverted migration is revertible. A new
  migration touching an account that already sits on a pending (non-
  reverted) record is rejected outright; a disjoint second migration
  before reverting the first silently makes the first permanent - there
  is no undo stack.
*/
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lakshop/points-engine/ledger"
)

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	Store ledger.Store
	Clock func() time.Time
}

func NewManager(store ledger.Store) *Manager {
	return &Manager{Store: store, Clock: time.Now}
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// Result is the caller-facing outcome of a migration or revert.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	MigrationID string `json:"migrationId,omitempty"`
}

// =============================================================================
// MIGRATE
// =============================================================================

// Migrate transplants from's balance and ledger history onto to.
func (m *Manager) Migrate(ctx context.Context, fromID, toID ledger.AccountID) (*Result, error) {
	if fromID == "" || toID == "" || fromID == toID {
		return nil, ledger.ErrInvalidTarget
	}

	var result *Result
	err := ledger.Atomically(ctx, m.Store, func(tx ledger.Tx) error {
		now := m.now()

		// Reject while either endpoint is part of a migration still
		// pending revert: reverting the older record would clobber state
		// the newer one produced.
		for _, id := range []ledger.AccountID{fromID, toID} {
			if _, err := tx.PendingMigrationInvolving(id); err == nil {
				return ledger.ErrMigrationPending
			} else if !ledger.IsNotFound(err) {
				return err
			}
		}

		from, err := tx.Account(fromID)
		if err != nil {
			return err
		}
		to, err := tx.Account(toID)
		if err != nil {
			return err
		}

		fromEntries, err := tx.Entries(fromID)
		if err != nil {
			return err
		}
		toEntries, err := tx.Entries(toID)
		if err != nil {
			return err
		}

		record := ledger.MigrationRecord{
			ID:          uuid.NewString(),
			FromID:      fromID,
			ToID:        toID,
			PriorFrom:   ledger.AccountSnapshot{Balance: from.Balance, EntryCount: len(fromEntries)},
			PriorTo:     ledger.AccountSnapshot{Balance: to.Balance, EntryCount: len(toEntries)},
			PerformedAt: now,
		}

		// Copy the history. Fresh IDs, original amounts and timestamps,
		// every copied ID remembered so the revert can take them back.
		for _, e := range fromEntries {
			copied := e
			copied.ID = uuid.NewString()
			copied.AccountID = toID
			if err := tx.AppendEntry(copied); err != nil {
				return err
			}
			record.CopiedEntryIDs = append(record.CopiedEntryIDs, copied.ID)
		}

		// Balance is copied, not summed.
		to.Balance = from.Balance
		to.DailyEarned = from.DailyEarned
		to.DailyEarnedDate = from.DailyEarnedDate
		if err := tx.PutAccount(to); err != nil {
			return err
		}

		from.Balance = 0
		from.DailyEarned = 0
		if err := tx.PutAccount(from); err != nil {
			return err
		}

		if err := tx.PutMigration(&record); err != nil {
			return err
		}

		result = &Result{
			Success:     true,
			MigrationID: record.ID,
			Message:     fmt.Sprintf("Migrated %s onto %s (%d entries, balance %d).", fromID, toID, len(record.CopiedEntryIDs), to.Balance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// REVERT
// =============================================================================

// RevertLastMigration undoes the most recent non-reverted migration.
func (m *Manager) RevertLastMigration(ctx context.Context) (*Result, error) {
	var result *Result
	err := ledger.Atomically(ctx, m.Store, func(tx ledger.Tx) error {
		record, err := tx.LatestMigration()
		if err != nil {
			return err
		}
		if record.Reverted {
			return ledger.ErrMigrationReverted
		}

		from, err := tx.Account(record.FromID)
		if err != nil {
			return err
		}
		to, err := tx.Account(record.ToID)
		if err != nil {
			return err
		}

		if err := tx.RemoveEntries(record.ToID, record.CopiedEntryIDs); err != nil {
			return err
		}

		from.Balance = record.PriorFrom.Balance
		if err := tx.PutAccount(from); err != nil {
			return err
		}
		to.Balance = record.PriorTo.Balance
		if err := tx.PutAccount(to); err != nil {
			return err
		}

		record.Reverted = true
		if err := tx.PutMigration(record); err != nil {
			return err
		}

		result = &Result{
			Success:     true,
			MigrationID: record.ID,
			Message:     fmt.Sprintf("Reverted migration %s: %s back to %d, %s back to %d.", record.ID, record.FromID, from.Balance, record.ToID, to.Balance),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
