/*
Package ledger provides the core points ledger for the school incentive
platform.

PURPOSE:
  This package contains the types and primitives every balance-mutating
  operation is built on: accounts, immutable ledger entries, redeemable
  codes, shop documents, and the transactional store contract that makes
  concurrent redemptions safe.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: Per-user balance, daily-earn tracking, role, restriction window
  - Entry: An immutable ledger record (credit or debit)
  - Code: A redeemable token in one of four kinds
  - Purchase / Product: Shop documents debited against the ledger
  - MigrationRecord: Snapshot pair for the one-shot account transplant

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified; corrections are new entries
  2. Integer points: Balances are whole points (decimal math only appears
     where percentage discounts are computed in the shop package)
  3. Versioned documents: Every mutable document carries a Version used for
     optimistic concurrency by the store implementations
  4. Auditability: Every balance change has a description and timestamp

SEE ALSO:
  - limits.go: Daily-earn and holding-cap computation (pure)
  - account.go: Credit/debit primitives (transaction-scoped)
  - store.go: Transactional store contract and retry wrapper
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID is the stable identity supplied by the identity provider.
// It is 1:1 with a business student/staff ID.
type AccountID string

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleCouncil Role = "council"
	RoleAdmin   Role = "admin"
	RoleKiosk   Role = "kiosk"
)

// Staff reports whether the role may operate a point-of-sale or grant flow.
func (r Role) Staff() bool {
	return r == RoleTeacher || r == RoleCouncil || r == RoleAdmin || r == RoleKiosk
}

// =============================================================================
// ACCOUNT - Per-user balance and metadata
// =============================================================================

type Account struct {
	ID          AccountID
	DisplayName string
	Role        Role

	// Balance is the circulating balance. Never negative.
	Balance int64

	// Daily-earn tracking. DailyEarnedDate is a day key ("2006-01-02");
	// when it differs from today the earned amount is stale and treated
	// as zero.
	DailyEarned     int64
	DailyEarnedDate string

	// Restriction window. A restricted account cannot earn or spend until
	// RestrictedUntil has passed.
	RestrictedUntil   *time.Time
	RestrictionReason string

	// MateCode is the account's own perpetually reusable invitation code.
	MateCode string

	ActiveTeamID string

	CreatedAt time.Time
	Version   int64
}

// Restricted reports whether the account is inside its restriction window.
func (a *Account) Restricted(now time.Time) bool {
	return a.RestrictedUntil != nil && now.Before(*a.RestrictedUntil)
}

// DailyEarnedOn returns the amount earned on the given day, honoring the
// daily reset.
func (a *Account) DailyEarnedOn(day string) int64 {
	if a.DailyEarnedDate != day {
		return 0
	}
	return a.DailyEarned
}

// =============================================================================
// ENTRY - Immutable ledger record
// =============================================================================

type EntryKind string

const (
	EntryCredit EntryKind = "credit"
	EntryDebit  EntryKind = "debit"
)

type Entry struct {
	ID        string
	AccountID AccountID

	// Amount is signed: positive for credits, negative for debits.
	Amount int64
	Kind   EntryKind

	Description string

	// ExcludedFromCirculation marks piggy-bank overflow: points recorded
	// for the historical total but not part of the visible balance.
	ExcludedFromCirculation bool

	CreatedAt time.Time
}

// =============================================================================
// REDEEMABLE CODE - Tagged union over four kinds
// =============================================================================

type CodeKind string

const (
	// CodeStandard transitions unused -> consumed exactly once.
	CodeStandard CodeKind = "standard"

	// CodeMate never transitions; rewards both redeemer and owner per use.
	CodeMate CodeKind = "mate"

	// CodeHiddenPartner is single-use and additionally credits a second
	// account named by the redeemer.
	CodeHiddenPartner CodeKind = "hidden_partner"

	// CodeStaffOnetime is single-use and records an intended recipient
	// for audit.
	CodeStaffOnetime CodeKind = "staff_onetime"
)

// Code is stored under its normalized (lower-case) token.
type Code struct {
	Code  string
	Kind  CodeKind
	Value int64

	// Consumption state. Irrelevant for mate codes.
	Consumed   bool
	ConsumedBy AccountID

	// OwnerID is set for mate codes (the account the code belongs to).
	OwnerID AccountID

	// IntendedFor is the audit-only recipient of a staff-onetime code.
	IntendedFor AccountID

	CreatedBy AccountID
	CreatedAt time.Time
	Version   int64
}

// CodeUsage records one use of a mate code, for display only.
type CodeUsage struct {
	Code   string
	UsedBy AccountID
	UsedAt time.Time
}

// =============================================================================
// SHOP DOCUMENTS
// =============================================================================

type Product struct {
	ID      string
	Name    string
	Price   int64
	Stock   int64
	Version int64
}

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
)

type DisputeStatus string

const (
	DisputeNone     DisputeStatus = "none"
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

type PurchaseItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int64
}

type Purchase struct {
	ID          string
	AccountID   AccountID
	Items       []PurchaseItem
	TotalCost   int64
	Status      PurchaseStatus
	Dispute     DisputeStatus
	ReceiptCode string
	CreatedAt   time.Time
	Version     int64
}

// =============================================================================
// LETTERS AND TEAMS
// =============================================================================

type LetterStatus string

const (
	LetterPending  LetterStatus = "pending"
	LetterApproved LetterStatus = "approved"
	LetterRejected LetterStatus = "rejected"
)

type Letter struct {
	ID         string
	SenderID   AccountID
	ReceiverID AccountID
	Status     LetterStatus
	ApprovedBy AccountID
	CreatedAt  time.Time
	Version    int64
}

// Team is a team-link record. The completion bonus fires exactly once,
// when the fifth distinct member joins.
type Team struct {
	ID        string
	MemberIDs []AccountID
	BonusPaid bool
	CreatedAt time.Time
	Version   int64
}

func (t *Team) HasMember(id AccountID) bool {
	for _, m := range t.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// =============================================================================
// MIGRATION RECORD - Compensating-action snapshots
// =============================================================================

// AccountSnapshot freezes the parts of an account the revert must restore.
type AccountSnapshot struct {
	Balance    int64
	EntryCount int
}

type MigrationRecord struct {
	ID     string
	FromID AccountID
	ToID   AccountID

	PriorFrom AccountSnapshot
	PriorTo   AccountSnapshot

	// CopiedEntryIDs are the entries written onto the target during the
	// migration; the revert removes exactly these.
	CopiedEntryIDs []string

	Reverted    bool
	PerformedAt time.Time
	Version     int64
}

// =============================================================================
// SYSTEM SETTINGS - Singleton, read inside every transaction
// =============================================================================

type Settings struct {
	MaintenanceMode       bool
	ShopEnabled           bool
	PointLimitEnabled     bool
	GlobalDiscountPercent int64
	DailyEarnCap          int64
	HoldingCap            int64
}

// DefaultSettings are applied when the store has no settings document yet.
func DefaultSettings() Settings {
	return Settings{
		ShopEnabled:       true,
		PointLimitEnabled: false,
		DailyEarnCap:      15,
		HoldingCap:        25,
	}
}

// =============================================================================
// FIXED REWARD CONSTANTS
// =============================================================================

const (
	// MateCodeReward is credited to BOTH parties on each mate-code use.
	MateCodeReward int64 = 1

	// LetterReward is credited to both sender and receiver on approval.
	LetterReward int64 = 3

	// TeamSize is the member count that completes a team.
	TeamSize = 5

	// TeamCompletionBonus is credited to every member when the team
	// completes.
	TeamCompletionBonus int64 = 10
)

// DayKey formats a time as the daily-earn bucket key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
