/*
Package sqlite provides the SQLite-backed ledger.Store implementation.

PURPOSE:
  Production persistence for the points ledger. Every engine operation
  runs inside one SQL transaction via WithTx; optimistic version checks
  on all mutable documents turn lost updates into
  ledger.ErrConcurrentModification, which the retry wrapper handles.

KEY TABLES:
  accounts:    Balance, daily-earn tracking, role, restriction window
  entries:     Immutable ledger records (append-only, one DELETE path
               reserved for the migration revert)
  codes:       Redeemable tokens keyed by normalized token
  code_usages: Mate-code usage log (display only)
  products, purchases, letters, teams, migrations
  settings:    One-row singleton (id = 1)

VERSIONING:
  Mutable documents carry a version column. Inserts go in at version 1;
  updates run WHERE version = ? and report ErrConcurrentModification
  when no row matched. The callers pass pointers and get the new
  version written back, same as the in-memory store.

WAL MODE:
  The database is opened with WAL journaling so readers never block
  the single writer.

SEE ALSO:
  - ledger/store.go: Tx and Store contracts
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lakshop/points-engine/ledger"
)

// Store is a SQLite-backed ledger.Store.
type Store struct {
	db *sql.DB
	// SQLite allows one writer. The mutex keeps concurrent WithTx calls
	// from tripping SQLITE_BUSY instead of our version checks.
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// ephemeral database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		daily_earned INTEGER NOT NULL DEFAULT 0,
		daily_earned_date TEXT NOT NULL DEFAULT '',
		restricted_until TEXT,
		restriction_reason TEXT NOT NULL DEFAULT '',
		mate_code TEXT NOT NULL DEFAULT '',
		active_team_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	-- Append-only ledger. The only DELETE against this table is the
	-- migration revert removing the exact entries it copied.
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		excluded_from_circulation BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		seq INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id, seq);

	CREATE TABLE IF NOT EXISTS codes (
		code TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		value INTEGER NOT NULL,
		consumed BOOLEAN NOT NULL DEFAULT FALSE,
		consumed_by TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		intended_for TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS code_usages (
		code TEXT NOT NULL,
		used_by TEXT NOT NULL,
		used_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_code_usages_code
		ON code_usages(code, used_at);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price INTEGER NOT NULL,
		stock INTEGER NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		items_json TEXT NOT NULL,
		total_cost INTEGER NOT NULL,
		status TEXT NOT NULL,
		dispute TEXT NOT NULL DEFAULT 'none',
		receipt_code TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_account
		ON purchases(account_id, created_at);

	CREATE TABLE IF NOT EXISTS letters (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		status TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		member_ids_json TEXT NOT NULL,
		bonus_paid BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS migrations (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		prior_from_balance INTEGER NOT NULL,
		prior_from_entries INTEGER NOT NULL,
		prior_to_balance INTEGER NOT NULL,
		prior_to_entries INTEGER NOT NULL,
		copied_entry_ids_json TEXT NOT NULL,
		reverted BOOLEAN NOT NULL DEFAULT FALSE,
		performed_at TEXT NOT NULL,
		seq INTEGER,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_migrations_pair
		ON migrations(from_id, to_id, reverted);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		maintenance_mode BOOLEAN NOT NULL,
		shop_enabled BOOLEAN NOT NULL,
		point_limit_enabled BOOLEAN NOT NULL,
		global_discount_percent INTEGER NOT NULL,
		daily_earn_cap INTEGER NOT NULL,
		holding_cap INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// seq columns backfill from rowid so ordering survives VACUUM.
	_, err := s.db.Exec(`
		UPDATE entries SET seq = rowid WHERE seq IS NULL;
		UPDATE migrations SET seq = rowid WHERE seq IS NULL;
	`)
	return err
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

// WithTx executes fn inside one SQL transaction. If fn returns an error
// the transaction is rolled back and nothing is committed.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&dbTx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// dbTx implements ledger.Tx over one *sql.Tx.
type dbTx struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ ledger.Tx = (*dbTx)(nil)

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, display_name, role, balance, daily_earned, daily_earned_date,
	restricted_until, restriction_reason, mate_code, active_team_id, created_at, version`

func (t *dbTx) Account(id ledger.AccountID) (*ledger.Account, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, string(id))
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var a ledger.Account
	var restrictedUntil sql.NullString
	var createdAt string

	err := row.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Balance,
		&a.DailyEarned, &a.DailyEarnedDate, &restrictedUntil,
		&a.RestrictionReason, &a.MateCode, &a.ActiveTeamID, &createdAt, &a.Version)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.CreatedAt = parseTime(createdAt)
	if restrictedUntil.Valid {
		u := parseTime(restrictedUntil.String)
		a.RestrictedUntil = &u
	}
	return &a, nil
}

func (t *dbTx) PutAccount(a *ledger.Account) error {
	var restrictedUntil *string
	if a.RestrictedUntil != nil {
		v := formatTime(*a.RestrictedUntil)
		restrictedUntil = &v
	}

	if a.Version == 0 {
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			string(a.ID), a.DisplayName, string(a.Role), a.Balance,
			a.DailyEarned, a.DailyEarnedDate, restrictedUntil,
			a.RestrictionReason, a.MateCode, a.ActiveTeamID,
			formatTime(a.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert account: %w", err)
		}
		a.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE accounts SET display_name = ?, role = ?, balance = ?,
			daily_earned = ?, daily_earned_date = ?, restricted_until = ?,
			restriction_reason = ?, mate_code = ?, active_team_id = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		a.DisplayName, string(a.Role), a.Balance,
		a.DailyEarned, a.DailyEarnedDate, restrictedUntil,
		a.RestrictionReason, a.MateCode, a.ActiveTeamID,
		string(a.ID), a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return bumpVersion(res, &a.Version)
}

func (t *dbTx) ListAccounts() ([]ledger.Account, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var restrictedUntil sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Balance,
			&a.DailyEarned, &a.DailyEarnedDate, &restrictedUntil,
			&a.RestrictionReason, &a.MateCode, &a.ActiveTeamID, &createdAt, &a.Version); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		if restrictedUntil.Valid {
			u := parseTime(restrictedUntil.String)
			a.RestrictedUntil = &u
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// ENTRIES
// =============================================================================

func (t *dbTx) AppendEntry(e ledger.Entry) error {
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO entries (id, account_id, amount, kind, description,
			excluded_from_circulation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.AccountID), e.Amount, string(e.Kind),
		e.Description, e.ExcludedFromCirculation, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `UPDATE entries SET seq = ? WHERE id = ?`, seq, e.ID)
	return err
}

func (t *dbTx) Entries(id ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, account_id, amount, kind, description,
			excluded_from_circulation, created_at
		FROM entries WHERE account_id = ? ORDER BY seq ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind,
			&e.Description, &e.ExcludedFromCirculation, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *dbTx) RemoveEntries(id ledger.AccountID, entryIDs []string) error {
	for _, eid := range entryIDs {
		if _, err := t.tx.ExecContext(t.ctx,
			`DELETE FROM entries WHERE id = ? AND account_id = ?`,
			eid, string(id)); err != nil {
			return fmt.Errorf("failed to remove entry: %w", err)
		}
	}
	return nil
}

// =============================================================================
// CODES
// =============================================================================

func (t *dbTx) Code(code string) (*ledger.Code, error) {
	var c ledger.Code
	var createdAt string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT code, kind, value, consumed, consumed_by, owner_id,
			intended_for, created_by, created_at, version
		FROM codes WHERE code = ?`, strings.ToLower(code),
	).Scan(&c.Code, &c.Kind, &c.Value, &c.Consumed, &c.ConsumedBy,
		&c.OwnerID, &c.IntendedFor, &c.CreatedBy, &createdAt, &c.Version)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan code: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (t *dbTx) PutCode(c *ledger.Code) error {
	key := strings.ToLower(c.Code)

	if c.Version == 0 {
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO codes (code, kind, value, consumed, consumed_by,
				owner_id, intended_for, created_by, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			key, string(c.Kind), c.Value, c.Consumed, string(c.ConsumedBy),
			string(c.OwnerID), string(c.IntendedFor), string(c.CreatedBy),
			formatTime(c.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert code: %w", err)
		}
		c.Code = key
		c.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE codes SET kind = ?, value = ?, consumed = ?, consumed_by = ?,
			owner_id = ?, intended_for = ?, version = version + 1
		WHERE code = ? AND version = ?`,
		string(c.Kind), c.Value, c.Consumed, string(c.ConsumedBy),
		string(c.OwnerID), string(c.IntendedFor),
		key, c.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update code: %w", err)
	}
	c.Code = key
	return bumpVersion(res, &c.Version)
}

func (t *dbTx) AppendCodeUsage(u ledger.CodeUsage) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO code_usages (code, used_by, used_at) VALUES (?, ?, ?)`,
		strings.ToLower(u.Code), string(u.UsedBy), formatTime(u.UsedAt))
	return err
}

func (t *dbTx) CodeUsages(code string) ([]ledger.CodeUsage, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT code, used_by, used_at FROM code_usages WHERE code = ? ORDER BY used_at ASC`,
		strings.ToLower(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.CodeUsage
	for rows.Next() {
		var u ledger.CodeUsage
		var usedAt string
		if err := rows.Scan(&u.Code, &u.UsedBy, &usedAt); err != nil {
			return nil, err
		}
		u.UsedAt = parseTime(usedAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// SHOP
// =============================================================================

func (t *dbTx) Product(id string) (*ledger.Product, error) {
	var p ledger.Product
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, name, price, stock, version FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Version)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	return &p, nil
}

func (t *dbTx) PutProduct(p *ledger.Product) error {
	if p.Version == 0 {
		_, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO products (id, name, price, stock, version) VALUES (?, ?, ?, ?, 1)`,
			p.ID, p.Name, p.Price, p.Stock)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert product: %w", err)
		}
		p.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE products SET name = ?, price = ?, stock = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.Name, p.Price, p.Stock, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return bumpVersion(res, &p.Version)
}

func (t *dbTx) ListProducts() ([]ledger.Product, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, name, price, stock, version FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Product
	for rows.Next() {
		var p ledger.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Version); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *dbTx) Purchase(id string) (*ledger.Purchase, error) {
	var p ledger.Purchase
	var itemsJSON, createdAt string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, account_id, items_json, total_cost, status, dispute,
			receipt_code, created_at, version
		FROM purchases WHERE id = ?`, id,
	).Scan(&p.ID, &p.AccountID, &itemsJSON, &p.TotalCost, &p.Status,
		&p.Dispute, &p.ReceiptCode, &createdAt, &p.Version)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan purchase: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(itemsJSON), &p.Items); err != nil {
		return nil, fmt.Errorf("failed to decode purchase items: %w", err)
	}
	return &p, nil
}

func (t *dbTx) PutPurchase(p *ledger.Purchase) error {
	itemsJSON, err := json.Marshal(p.Items)
	if err != nil {
		return err
	}

	if p.Version == 0 {
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO purchases (id, account_id, items_json, total_cost,
				status, dispute, receipt_code, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			p.ID, string(p.AccountID), string(itemsJSON), p.TotalCost,
			string(p.Status), string(p.Dispute), p.ReceiptCode,
			formatTime(p.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert purchase: %w", err)
		}
		p.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE purchases SET items_json = ?, total_cost = ?, status = ?,
			dispute = ?, receipt_code = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(itemsJSON), p.TotalCost, string(p.Status),
		string(p.Dispute), p.ReceiptCode, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update purchase: %w", err)
	}
	return bumpVersion(res, &p.Version)
}

func (t *dbTx) PurchasesByAccount(id ledger.AccountID) ([]ledger.Purchase, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, account_id, items_json, total_cost, status, dispute,
			receipt_code, created_at, version
		FROM purchases WHERE account_id = ? ORDER BY created_at ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Purchase
	for rows.Next() {
		var p ledger.Purchase
		var itemsJSON, createdAt string
		if err := rows.Scan(&p.ID, &p.AccountID, &itemsJSON, &p.TotalCost,
			&p.Status, &p.Dispute, &p.ReceiptCode, &createdAt, &p.Version); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(itemsJSON), &p.Items); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// LETTERS AND TEAMS
// =============================================================================

func (t *dbTx) Letter(id string) (*ledger.Letter, error) {
	var l ledger.Letter
	var createdAt string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, sender_id, receiver_id, status, approved_by, created_at, version
		FROM letters WHERE id = ?`, id,
	).Scan(&l.ID, &l.SenderID, &l.ReceiverID, &l.Status, &l.ApprovedBy, &createdAt, &l.Version)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan letter: %w", err)
	}
	l.CreatedAt = parseTime(createdAt)
	return &l, nil
}

func (t *dbTx) PutLetter(l *ledger.Letter) error {
	if l.Version == 0 {
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO letters (id, sender_id, receiver_id, status, approved_by, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			l.ID, string(l.SenderID), string(l.ReceiverID), string(l.Status),
			string(l.ApprovedBy), formatTime(l.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert letter: %w", err)
		}
		l.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE letters SET status = ?, approved_by = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(l.Status), string(l.ApprovedBy), l.ID, l.Version)
	if err != nil {
		return fmt.Errorf("failed to update letter: %w", err)
	}
	return bumpVersion(res, &l.Version)
}

func (t *dbTx) Team(id string) (*ledger.Team, error) {
	var tm ledger.Team
	var membersJSON, createdAt string
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, member_ids_json, bonus_paid, created_at, version
		FROM teams WHERE id = ?`, id,
	).Scan(&tm.ID, &membersJSON, &tm.BonusPaid, &createdAt, &tm.Version)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan team: %w", err)
	}
	tm.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(membersJSON), &tm.MemberIDs); err != nil {
		return nil, fmt.Errorf("failed to decode team members: %w", err)
	}
	return &tm, nil
}

func (t *dbTx) PutTeam(tm *ledger.Team) error {
	membersJSON, err := json.Marshal(tm.MemberIDs)
	if err != nil {
		return err
	}

	if tm.Version == 0 {
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO teams (id, member_ids_json, bonus_paid, created_at, version)
			VALUES (?, ?, ?, ?, 1)`,
			tm.ID, string(membersJSON), tm.BonusPaid, formatTime(tm.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert team: %w", err)
		}
		tm.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE teams SET member_ids_json = ?, bonus_paid = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(membersJSON), tm.BonusPaid, tm.ID, tm.Version)
	if err != nil {
		return fmt.Errorf("failed to update team: %w", err)
	}
	return bumpVersion(res, &tm.Version)
}

// =============================================================================
// MIGRATIONS
// =============================================================================

const migrationColumns = `id, from_id, to_id, prior_from_balance, prior_from_entries,
	prior_to_balance, prior_to_entries, copied_entry_ids_json, reverted, performed_at, version`

func (t *dbTx) PutMigration(m *ledger.MigrationRecord) error {
	idsJSON, err := json.Marshal(m.CopiedEntryIDs)
	if err != nil {
		return err
	}

	if m.Version == 0 {
		res, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO migrations (`+migrationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			m.ID, string(m.FromID), string(m.ToID),
			m.PriorFrom.Balance, m.PriorFrom.EntryCount,
			m.PriorTo.Balance, m.PriorTo.EntryCount,
			string(idsJSON), m.Reverted, formatTime(m.PerformedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert migration: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(t.ctx,
			`UPDATE migrations SET seq = ? WHERE id = ?`, seq, m.ID); err != nil {
			return err
		}
		m.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE migrations SET reverted = ?, copied_entry_ids_json = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		m.Reverted, string(idsJSON), m.ID, m.Version)
	if err != nil {
		return fmt.Errorf("failed to update migration: %w", err)
	}
	return bumpVersion(res, &m.Version)
}

func (t *dbTx) LatestMigration() (*ledger.MigrationRecord, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+migrationColumns+`
		FROM migrations
		ORDER BY seq DESC LIMIT 1`)
	return scanMigration(row)
}

func (t *dbTx) PendingMigrationInvolving(id ledger.AccountID) (*ledger.MigrationRecord, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+migrationColumns+`
		FROM migrations WHERE (from_id = ? OR to_id = ?) AND reverted = FALSE
		ORDER BY seq DESC LIMIT 1`, string(id), string(id))
	return scanMigration(row)
}

func scanMigration(row *sql.Row) (*ledger.MigrationRecord, error) {
	var m ledger.MigrationRecord
	var idsJSON, performedAt string

	err := row.Scan(&m.ID, &m.FromID, &m.ToID,
		&m.PriorFrom.Balance, &m.PriorFrom.EntryCount,
		&m.PriorTo.Balance, &m.PriorTo.EntryCount,
		&idsJSON, &m.Reverted, &performedAt, &m.Version)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrMigrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration: %w", err)
	}

	m.PerformedAt = parseTime(performedAt)
	if err := json.Unmarshal([]byte(idsJSON), &m.CopiedEntryIDs); err != nil {
		return nil, fmt.Errorf("failed to decode copied entry ids: %w", err)
	}
	return &m, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (t *dbTx) Settings() (ledger.Settings, error) {
	var s ledger.Settings
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT maintenance_mode, shop_enabled, point_limit_enabled,
			global_discount_percent, daily_earn_cap, holding_cap
		FROM settings WHERE id = 1`,
	).Scan(&s.MaintenanceMode, &s.ShopEnabled, &s.PointLimitEnabled,
		&s.GlobalDiscountPercent, &s.DailyEarnCap, &s.HoldingCap)
	if err == sql.ErrNoRows {
		return ledger.DefaultSettings(), nil
	}
	if err != nil {
		return ledger.Settings{}, fmt.Errorf("failed to scan settings: %w", err)
	}
	return s, nil
}

func (t *dbTx) PutSettings(s ledger.Settings) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO settings (id, maintenance_mode, shop_enabled,
			point_limit_enabled, global_discount_percent, daily_earn_cap, holding_cap)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			maintenance_mode = excluded.maintenance_mode,
			shop_enabled = excluded.shop_enabled,
			point_limit_enabled = excluded.point_limit_enabled,
			global_discount_percent = excluded.global_discount_percent,
			daily_earn_cap = excluded.daily_earn_cap,
			holding_cap = excluded.holding_cap`,
		s.MaintenanceMode, s.ShopEnabled, s.PointLimitEnabled,
		s.GlobalDiscountPercent, s.DailyEarnCap, s.HoldingCap)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func bumpVersion(res sql.Result, version *int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	*version++
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
