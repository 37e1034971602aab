package migrate_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakshop/points-engine/ledger"
	"github.com/lakshop/points-engine/ledger/store"
	"github.com/lakshop/points-engine/migrate"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var noon = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*migrate.Manager, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	mgr := migrate.NewManager(m)
	mgr.Clock = func() time.Time { return noon }
	return mgr, m
}

// seedWithHistory creates an account holding `entries` one-point credits.
func seedWithHistory(t *testing.T, m *store.Memory, id string, balance int64, entries int) {
	t.Helper()
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		if err := tx.PutAccount(&ledger.Account{
			ID:        ledger.AccountID(id),
			Role:      ledger.RoleStudent,
			Balance:   balance,
			CreatedAt: noon,
		}); err != nil {
			return err
		}
		for i := 0; i < entries; i++ {
			if err := tx.AppendEntry(ledger.Entry{
				ID:          fmt.Sprintf("%s-e%d", id, i),
				AccountID:   ledger.AccountID(id),
				Amount:      1,
				Kind:        ledger.EntryCredit,
				Description: "seed",
				CreatedAt:   noon,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func accountState(t *testing.T, m *store.Memory, id string) (int64, int) {
	t.Helper()
	var balance int64
	var entryCount int
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		a, err := tx.Account(ledger.AccountID(id))
		if err != nil {
			return err
		}
		entries, err := tx.Entries(ledger.AccountID(id))
		if err != nil {
			return err
		}
		balance = a.Balance
		entryCount = len(entries)
		return nil
	})
	require.NoError(t, err)
	return balance, entryCount
}

// =============================================================================
// MIGRATE
// =============================================================================

func TestMigrate_CopiesHistoryAndBalance(t *testing.T) {
	// GIVEN: from has balance 7 with 3 entries, to has balance 2 with 1
	// WHEN: Migrating from -> to
	// THEN: to ends at balance 7 with 4 entries, from is zeroed but
	//       keeps its original entries

	mgr, m := newTestManager(t)
	seedWithHistory(t, m, "old", 7, 3)
	seedWithHistory(t, m, "new", 2, 1)

	res, err := mgr.Migrate(context.Background(), "old", "new")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.MigrationID)

	toBalance, toEntries := accountState(t, m, "new")
	assert.Equal(t, int64(7), toBalance)
	assert.Equal(t, 4, toEntries)

	fromBalance, fromEntries := accountState(t, m, "old")
	assert.Equal(t, int64(0), fromBalance)
	assert.Equal(t, 3, fromEntries)
}

func TestMigrate_SamePairWhilePending_Rejected(t *testing.T) {
	mgr, m := newTestManager(t)
	seedWithHistory(t, m, "old", 7, 2)
	seedWithHistory(t, m, "new", 0, 0)

	_, err := mgr.Migrate(context.Background(), "old", "new")
	require.NoError(t, err)

	_, err = mgr.Migrate(context.Background(), "old", "new")
	assert.ErrorIs(t, err, ledger.ErrMigrationPending)
}

func TestMigrate_SharedEndpointWhilePending_Rejected(t *testing.T) {
	// GIVEN: A pending a -> b migration
	// WHEN: A second migration names either of those accounts, on
	//       either side
	// THEN: It is rejected until the first is reverted; reverting the
	//       first would otherwise clobber the second's state

	mgr, m := newTestManager(t)
	seedWithHistory(t, m, "a", 5, 1)
	seedWithHistory(t, m, "b", 0, 0)
	seedWithHistory(t, m, "c", 3, 1)

	_, err := mgr.Migrate(context.Background(), "a", "b")
	require.NoError(t, err)

	for name, pair := range map[string][2]ledger.AccountID{
		"reuses pending target as source": {"b", "c"},
		"reuses pending source as target": {"c", "a"},
	} {
		_, err := mgr.Migrate(context.Background(), pair[0], pair[1])
		assert.ErrorIs(t, err, ledger.ErrMigrationPending, name)
	}

	_, err = mgr.RevertLastMigration(context.Background())
	require.NoError(t, err)

	_, err = mgr.Migrate(context.Background(), "b", "c")
	require.NoError(t, err)
}

func TestMigrate_InvalidTargets(t *testing.T) {
	mgr, _ := newTestManager(t)

	for name, pair := range map[string][2]ledger.AccountID{
		"same account": {"a", "a"},
		"empty from":   {"", "a"},
		"empty to":     {"a", ""},
	} {
		_, err := mgr.Migrate(context.Background(), pair[0], pair[1])
		assert.ErrorIs(t, err, ledger.ErrInvalidTarget, name)
	}
}

func TestMigrate_UnknownAccount(t *testing.T) {
	mgr, m := newTestManager(t)
	seedWithHistory(t, m, "old", 7, 2)

	_, err := mgr.Migrate(context.Background(), "old", "ghost")
	assert.True(t, ledger.IsNotFound(err))

	// Nothing moved.
	balance, entries := accountState(t, m, "old")
	assert.Equal(t, int64(7), balance)
	assert.Equal(t, 2, entries)
}

// =============================================================================
// REVERT
// =============================================================================

func TestRevert_RestoresBothAccounts(t *testing.T) {
	// GIVEN: A completed old -> new migration
	// WHEN: Reverting
	// THEN: Both accounts return to their pre-migration balances and
	//       entry counts

	mgr, m := newTestManager(t)
	seedWithHistory(t, m, "old", 7, 3)
	seedWithHistory(t, m, "new", 2, 1)

	_, err := mgr.Migrate(context.Background(), "old", "new")
	require.NoError(t, err)

	res, err := mgr.RevertLastMigration(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)

	fromBalance, fromEntries := accountState(t, m, "old")
	assert.Equal(t, int64(7), fromBalance)
	assert.Equal(t, 3, fromEntries)

	toBalance, toEntries := accountState(t, m, "new")
	assert.Equal(t, int64(2), toBalance)
	assert.Equal(t, 1, toEntries)
}

func TestRevert_RevertedPairCanMigrateAgain(t *testing.T) {
	mgr, m := newTestManager(t)
	seedWithHistory(t, m, "old", 7, 2)
	seedWithHistory(t, m, "new", 0, 0)

	_, err := mgr.Migrate(context.Background(), "old", "new")
	require.NoError(t, err)
	_, err = mgr.RevertLastMigration(context.Background())
	require.NoError(t, err)

	// The pending guard only blocks while a migration stands un-reverted.
	_, err = mgr.Migrate(context.Background(), "old", "new")
	require.NoError(t, err)
}

func TestRevert_NothingToRevert(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.RevertLastMigration(context.Background())
	assert.True(t, ledger.IsNotFound(err))
}

func TestRevert_OnlyLatestMigrationIsRevertible(t *testing.T) {
	// GIVEN: Two migrations, A->B then C->D
	// WHEN: Reverting twice
	// THEN: The first revert undoes C->D; the second finds nothing left,
	//       making A->B permanent

	mgr, m := newTestManager(t)
	seedWithHistory(t, m, "a", 5, 1)
	seedWithHistory(t, m, "b", 0, 0)
	seedWithHistory(t, m, "c", 9, 2)
	seedWithHistory(t, m, "d", 0, 0)

	_, err := mgr.Migrate(context.Background(), "a", "b")
	require.NoError(t, err)
	_, err = mgr.Migrate(context.Background(), "c", "d")
	require.NoError(t, err)

	_, err = mgr.RevertLastMigration(context.Background())
	require.NoError(t, err)

	cBalance, _ := accountState(t, m, "c")
	assert.Equal(t, int64(9), cBalance)

	// A->B stays migrated and there is no undo stack beneath it.
	bBalance, _ := accountState(t, m, "b")
	assert.Equal(t, int64(5), bBalance)

	_, err = mgr.RevertLastMigration(context.Background())
	assert.ErrorIs(t, err, ledger.ErrMigrationReverted)
}
