/*
scheduler.go - Restriction-expiry sweeper

PURPOSE:
  Restriction windows are enforced lazily (every guard re-checks the
  timestamp), so correctness never depends on this job. The sweeper
  exists to keep the documents honest: once a window has passed it
  clears the restrictedUntil field and reason so account reads and
  staff listings don't show stale restrictions.

DESIGN:
  - Background goroutine with a configurable check interval
  - Each sweep clears only accounts whose window has fully passed
  - Clears run through Atomically, so a concurrent staff update wins

USAGE:
  sweeper := NewRestrictionSweeper(store)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - ledger/account.go: EnsureActive (the lazy enforcement)
  - admin.go: SetRestriction / ClearRestriction
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lakshop/points-engine/ledger"
)

// RestrictionSweeper clears expired restriction windows.
type RestrictionSweeper struct {
	Store         ledger.Store
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRestrictionSweeper creates a sweeper with the default hourly
// interval.
func NewRestrictionSweeper(store ledger.Store) *RestrictionSweeper {
	return &RestrictionSweeper{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (rs *RestrictionSweeper) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Sweeper] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the sweeper.
func (rs *RestrictionSweeper) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (rs *RestrictionSweeper) run() {
	defer rs.wg.Done()

	rs.sweep()

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RestrictionSweeper) sweep() {
	ctx := context.Background()
	now := time.Now()

	var expired []ledger.AccountID
	err := rs.Store.WithTx(ctx, func(tx ledger.Tx) error {
		accounts, err := tx.ListAccounts()
		if err != nil {
			return err
		}
		for _, a := range accounts {
			if a.RestrictedUntil != nil && !a.Restricted(now) {
				expired = append(expired, a.ID)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[Sweeper] Error listing accounts: %v", err)
		return
	}

	cleared := 0
	for _, id := range expired {
		err := ledger.Atomically(ctx, rs.Store, func(tx ledger.Tx) error {
			acct, err := tx.Account(id)
			if err != nil {
				return err
			}
			// Re-check inside the transaction; staff may have extended
			// the window since the listing.
			if acct.RestrictedUntil == nil || acct.Restricted(now) {
				return nil
			}
			acct.RestrictedUntil = nil
			acct.RestrictionReason = ""
			return tx.PutAccount(acct)
		})
		if err != nil {
			log.Printf("[Sweeper] Error clearing restriction for %s: %v", id, err)
			continue
		}
		cleared++
	}

	if cleared > 0 {
		log.Printf("[Sweeper] Cleared %d expired restrictions", cleared)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *RestrictionSweeper) RunNow() {
	rs.sweep()
}
