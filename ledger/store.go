/*
store.go - Transactional store contract

PURPOSE:
  Defines the interface between the operation engines and the document
  store. Every balance-mutating operation runs inside exactly one WithTx
  call: it reads current documents, computes new values, and commits only
  if nothing changed underneath it.

OPTIMISTIC CONCURRENCY:
  Mutable documents carry a Version. A Put* call commits only when the
  stored version still matches; otherwise the store returns
  ErrConcurrentModification and Atomically re-runs the whole
  read-compute-write cycle, a bounded number of times. This is the only
  correctness mechanism against double-spend - no extra locking.

APPEND-ONLY CONTRACT:
  Entries have AppendEntry and no update. The single exception is
  RemoveEntries, which exists solely so the migration revert can take
  back the entries the migration itself copied. Nothing else may call it.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: Production SQLite

SEE ALSO:
  - account.go: Credit/Debit built on Tx
  - errors.go: ErrConcurrentModification, ErrRetryExhausted
*/
package ledger

import "context"

// =============================================================================
// TX - Transactional view over the document store
// =============================================================================

// Tx is a serializable view of the store. All reads observe a consistent
// snapshot; all writes commit atomically when the WithTx callback returns
// nil, or not at all.
type Tx interface {
	// Accounts
	Account(id AccountID) (*Account, error)
	PutAccount(a *Account) error
	ListAccounts() ([]Account, error)

	// Ledger entries (append-only per account, ordered by creation time)
	AppendEntry(e Entry) error
	Entries(id AccountID) ([]Entry, error)
	// RemoveEntries exists only for the migration revert.
	RemoveEntries(id AccountID, entryIDs []string) error

	// Redeemable codes
	Code(code string) (*Code, error)
	PutCode(c *Code) error
	AppendCodeUsage(u CodeUsage) error
	CodeUsages(code string) ([]CodeUsage, error)

	// Shop
	Product(id string) (*Product, error)
	PutProduct(p *Product) error
	ListProducts() ([]Product, error)
	Purchase(id string) (*Purchase, error)
	PutPurchase(p *Purchase) error
	PurchasesByAccount(id AccountID) ([]Purchase, error)

	// Letters and teams
	Letter(id string) (*Letter, error)
	PutLetter(l *Letter) error
	Team(id string) (*Team, error)
	PutTeam(t *Team) error

	// Migrations. PendingMigrationInvolving finds the newest non-reverted
	// record with the account on either side.
	PutMigration(m *MigrationRecord) error
	LatestMigration() (*MigrationRecord, error)
	PendingMigrationInvolving(id AccountID) (*MigrationRecord, error)

	// System settings singleton. Reading inside the transaction is what
	// keeps a just-flipped toggle or discount from being applied stale.
	Settings() (Settings, error)
	PutSettings(s Settings) error
}

// Store opens transactions.
type Store interface {
	// WithTx executes fn within one atomic transaction.
	// If fn returns an error, nothing is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// RETRY WRAPPER
// =============================================================================

// MaxTxAttempts bounds the optimistic-concurrency retry loop.
const MaxTxAttempts = 5

// Atomically runs fn in a transaction, retrying the whole cycle on
// version conflicts. Deterministic errors pass through untouched; only
// ErrConcurrentModification triggers a retry. When the budget runs out
// the caller gets ErrRetryExhausted, which is safe to retry end-to-end.
func Atomically(ctx context.Context, store Store, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt < MaxTxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = store.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return ErrRetryExhausted
}
