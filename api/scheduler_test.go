package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakshop/points-engine/api"
	"github.com/lakshop/points-engine/ledger"
	"github.com/lakshop/points-engine/ledger/store"
)

func restrictedAccount(t *testing.T, m *store.Memory, id string, until time.Time) {
	t.Helper()
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.PutAccount(&ledger.Account{
			ID:                ledger.AccountID(id),
			Role:              ledger.RoleStudent,
			RestrictedUntil:   &until,
			RestrictionReason: "test window",
			CreatedAt:         time.Now().UTC(),
		})
	})
	require.NoError(t, err)
}

func TestSweeper_ClearsOnlyExpiredWindows(t *testing.T) {
	// GIVEN: One expired and one still-active restriction
	// WHEN: A sweep runs
	// THEN: Only the expired window is cleared

	m := store.NewMemory()
	restrictedAccount(t, m, "expired", time.Now().Add(-time.Hour))
	restrictedAccount(t, m, "active", time.Now().Add(time.Hour))

	sweeper := api.NewRestrictionSweeper(m)
	sweeper.RunNow()

	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		cleared, err := tx.Account("expired")
		require.NoError(t, err)
		assert.Nil(t, cleared.RestrictedUntil)
		assert.Empty(t, cleared.RestrictionReason)

		kept, err := tx.Account("active")
		require.NoError(t, err)
		assert.NotNil(t, kept.RestrictedUntil)
		return nil
	})
	require.NoError(t, err)
}

func TestSweeper_StartStop(t *testing.T) {
	m := store.NewMemory()
	restrictedAccount(t, m, "expired", time.Now().Add(-time.Hour))

	sweeper := api.NewRestrictionSweeper(m)
	sweeper.CheckInterval = time.Minute
	sweeper.Start()
	defer sweeper.Stop()

	// The initial sweep fires on start, before the first tick.
	assert.Eventually(t, func() bool {
		var cleared bool
		err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
			a, err := tx.Account("expired")
			if err != nil {
				return err
			}
			cleared = a.RestrictedUntil == nil
			return nil
		})
		return err == nil && cleared
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_DisabledDoesNotStart(t *testing.T) {
	m := store.NewMemory()
	sweeper := api.NewRestrictionSweeper(m)
	sweeper.Enabled = false

	sweeper.Start()
	sweeper.Stop() // must not block or panic with no goroutine running
}
