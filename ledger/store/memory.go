// Package store provides the in-memory ledger.Store implementation used
// by tests and local development.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lakshop/points-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory holds every document in maps. WithTx serializes transactions
// under one mutex and rolls back via snapshot on error, which gives the
// same all-or-nothing semantics the production store gets from SQL
// transactions. Version checks still run so optimistic-concurrency
// behavior is observable in tests.
type Memory struct {
	mu sync.Mutex

	accounts   map[ledger.AccountID]ledger.Account
	entries    map[ledger.AccountID][]ledger.Entry
	codes      map[string]ledger.Code
	codeUsages map[string][]ledger.CodeUsage
	products   map[string]ledger.Product
	purchases  map[string]ledger.Purchase
	letters    map[string]ledger.Letter
	teams      map[string]ledger.Team
	migrations []ledger.MigrationRecord
	settings   *ledger.Settings
}

func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[ledger.AccountID]ledger.Account),
		entries:    make(map[ledger.AccountID][]ledger.Entry),
		codes:      make(map[string]ledger.Code),
		codeUsages: make(map[string][]ledger.CodeUsage),
		products:   make(map[string]ledger.Product),
		purchases:  make(map[string]ledger.Purchase),
		letters:    make(map[string]ledger.Letter),
		teams:      make(map[string]ledger.Team),
	}
}

// WithTx executes fn within a transaction, simulated with snapshot +
// rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	accounts   map[ledger.AccountID]ledger.Account
	entries    map[ledger.AccountID][]ledger.Entry
	codes      map[string]ledger.Code
	codeUsages map[string][]ledger.CodeUsage
	products   map[string]ledger.Product
	purchases  map[string]ledger.Purchase
	letters    map[string]ledger.Letter
	teams      map[string]ledger.Team
	migrations []ledger.MigrationRecord
	settings   *ledger.Settings
}

func (m *Memory) snapshot() memSnapshot {
	s := memSnapshot{
		accounts:   make(map[ledger.AccountID]ledger.Account, len(m.accounts)),
		entries:    make(map[ledger.AccountID][]ledger.Entry, len(m.entries)),
		codes:      make(map[string]ledger.Code, len(m.codes)),
		codeUsages: make(map[string][]ledger.CodeUsage, len(m.codeUsages)),
		products:   make(map[string]ledger.Product, len(m.products)),
		purchases:  make(map[string]ledger.Purchase, len(m.purchases)),
		letters:    make(map[string]ledger.Letter, len(m.letters)),
		teams:      make(map[string]ledger.Team, len(m.teams)),
		migrations: append([]ledger.MigrationRecord{}, m.migrations...),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = append([]ledger.Entry{}, v...)
	}
	for k, v := range m.codes {
		s.codes[k] = v
	}
	for k, v := range m.codeUsages {
		s.codeUsages[k] = append([]ledger.CodeUsage{}, v...)
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.purchases {
		s.purchases[k] = v
	}
	for k, v := range m.letters {
		s.letters[k] = v
	}
	for k, v := range m.teams {
		s.teams[k] = v
	}
	if m.settings != nil {
		cp := *m.settings
		s.settings = &cp
	}
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.accounts = s.accounts
	m.entries = s.entries
	m.codes = s.codes
	m.codeUsages = s.codeUsages
	m.products = s.products
	m.purchases = s.purchases
	m.letters = s.letters
	m.teams = s.teams
	m.migrations = s.migrations
	m.settings = s.settings
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type memTx struct {
	m *Memory
}

var _ ledger.Tx = (*memTx)(nil)

// Accounts

func (t *memTx) Account(id ledger.AccountID) (*ledger.Account, error) {
	a, ok := t.m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := a
	if a.RestrictedUntil != nil {
		u := *a.RestrictedUntil
		cp.RestrictedUntil = &u
	}
	return &cp, nil
}

func (t *memTx) PutAccount(a *ledger.Account) error {
	existing, ok := t.m.accounts[a.ID]
	if ok && existing.Version != a.Version {
		return ledger.ErrConcurrentModification
	}
	cp := *a
	cp.Version++
	t.m.accounts[a.ID] = cp
	a.Version = cp.Version
	return nil
}

func (t *memTx) ListAccounts() ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(t.m.accounts))
	for _, a := range t.m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Entries

func (t *memTx) AppendEntry(e ledger.Entry) error {
	t.m.entries[e.AccountID] = append(t.m.entries[e.AccountID], e)
	return nil
}

func (t *memTx) Entries(id ledger.AccountID) ([]ledger.Entry, error) {
	return append([]ledger.Entry{}, t.m.entries[id]...), nil
}

func (t *memTx) RemoveEntries(id ledger.AccountID, entryIDs []string) error {
	drop := make(map[string]bool, len(entryIDs))
	for _, eid := range entryIDs {
		drop[eid] = true
	}
	kept := t.m.entries[id][:0]
	for _, e := range t.m.entries[id] {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	t.m.entries[id] = kept
	return nil
}

// Codes

func (t *memTx) Code(code string) (*ledger.Code, error) {
	c, ok := t.m.codes[strings.ToLower(code)]
	if !ok {
		return nil, ledger.ErrCodeNotFound
	}
	cp := c
	return &cp, nil
}

func (t *memTx) PutCode(c *ledger.Code) error {
	key := strings.ToLower(c.Code)
	existing, ok := t.m.codes[key]
	if ok && existing.Version != c.Version {
		return ledger.ErrConcurrentModification
	}
	cp := *c
	cp.Code = key
	cp.Version++
	t.m.codes[key] = cp
	c.Version = cp.Version
	return nil
}

func (t *memTx) AppendCodeUsage(u ledger.CodeUsage) error {
	key := strings.ToLower(u.Code)
	t.m.codeUsages[key] = append(t.m.codeUsages[key], u)
	return nil
}

func (t *memTx) CodeUsages(code string) ([]ledger.CodeUsage, error) {
	key := strings.ToLower(code)
	return append([]ledger.CodeUsage{}, t.m.codeUsages[key]...), nil
}

// Shop

func (t *memTx) Product(id string) (*ledger.Product, error) {
	p, ok := t.m.products[id]
	if !ok {
		return nil, ledger.ErrProductNotFound
	}
	cp := p
	return &cp, nil
}

func (t *memTx) PutProduct(p *ledger.Product) error {
	existing, ok := t.m.products[p.ID]
	if ok && existing.Version != p.Version {
		return ledger.ErrConcurrentModification
	}
	cp := *p
	cp.Version++
	t.m.products[p.ID] = cp
	p.Version = cp.Version
	return nil
}

func (t *memTx) ListProducts() ([]ledger.Product, error) {
	out := make([]ledger.Product, 0, len(t.m.products))
	for _, p := range t.m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) Purchase(id string) (*ledger.Purchase, error) {
	p, ok := t.m.purchases[id]
	if !ok {
		return nil, ledger.ErrPurchaseNotFound
	}
	cp := p
	cp.Items = append([]ledger.PurchaseItem{}, p.Items...)
	return &cp, nil
}

func (t *memTx) PutPurchase(p *ledger.Purchase) error {
	existing, ok := t.m.purchases[p.ID]
	if ok && existing.Version != p.Version {
		return ledger.ErrConcurrentModification
	}
	cp := *p
	cp.Items = append([]ledger.PurchaseItem{}, p.Items...)
	cp.Version++
	t.m.purchases[p.ID] = cp
	p.Version = cp.Version
	return nil
}

func (t *memTx) PurchasesByAccount(id ledger.AccountID) ([]ledger.Purchase, error) {
	var out []ledger.Purchase
	for _, p := range t.m.purchases {
		if p.AccountID == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Letters and teams

func (t *memTx) Letter(id string) (*ledger.Letter, error) {
	l, ok := t.m.letters[id]
	if !ok {
		return nil, ledger.ErrLetterNotFound
	}
	cp := l
	return &cp, nil
}

func (t *memTx) PutLetter(l *ledger.Letter) error {
	existing, ok := t.m.letters[l.ID]
	if ok && existing.Version != l.Version {
		return ledger.ErrConcurrentModification
	}
	cp := *l
	cp.Version++
	t.m.letters[l.ID] = cp
	l.Version = cp.Version
	return nil
}

func (t *memTx) Team(id string) (*ledger.Team, error) {
	tm, ok := t.m.teams[id]
	if !ok {
		return nil, ledger.ErrTeamNotFound
	}
	cp := tm
	cp.MemberIDs = append([]ledger.AccountID{}, tm.MemberIDs...)
	return &cp, nil
}

func (t *memTx) PutTeam(tm *ledger.Team) error {
	existing, ok := t.m.teams[tm.ID]
	if ok && existing.Version != tm.Version {
		return ledger.ErrConcurrentModification
	}
	cp := *tm
	cp.MemberIDs = append([]ledger.AccountID{}, tm.MemberIDs...)
	cp.Version++
	t.m.teams[tm.ID] = cp
	tm.Version = cp.Version
	return nil
}

// Migrations

func (t *memTx) PutMigration(m *ledger.MigrationRecord) error {
	cp := *m
	cp.CopiedEntryIDs = append([]string{}, m.CopiedEntryIDs...)
	for i, r := range t.m.migrations {
		if r.ID == m.ID {
			if r.Version != m.Version {
				return ledger.ErrConcurrentModification
			}
			cp.Version++
			t.m.migrations[i] = cp
			m.Version = cp.Version
			return nil
		}
	}
	cp.Version++
	t.m.migrations = append(t.m.migrations, cp)
	m.Version = cp.Version
	return nil
}

func (t *memTx) LatestMigration() (*ledger.MigrationRecord, error) {
	if len(t.m.migrations) == 0 {
		return nil, ledger.ErrMigrationNotFound
	}
	last := t.m.migrations[len(t.m.migrations)-1]
	cp := last
	cp.CopiedEntryIDs = append([]string{}, last.CopiedEntryIDs...)
	return &cp, nil
}

func (t *memTx) PendingMigrationInvolving(id ledger.AccountID) (*ledger.MigrationRecord, error) {
	for i := len(t.m.migrations) - 1; i >= 0; i-- {
		r := t.m.migrations[i]
		if r.Reverted || (r.FromID != id && r.ToID != id) {
			continue
		}
		cp := r
		cp.CopiedEntryIDs = append([]string{}, r.CopiedEntryIDs...)
		return &cp, nil
	}
	return nil, ledger.ErrMigrationNotFound
}

// Settings

func (t *memTx) Settings() (ledger.Settings, error) {
	if t.m.settings == nil {
		return ledger.DefaultSettings(), nil
	}
	return *t.m.settings, nil
}

func (t *memTx) PutSettings(s ledger.Settings) error {
	cp := s
	t.m.settings = &cp
	return nil
}
