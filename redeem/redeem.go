/*
Package redeem implements the code redemption engine.

PURPOSE:
  Validates and consumes redeemable codes of four kinds. Each kind is a
  small state machine behind the same contract:

    standard        unused -> consumed, credit the redeemer
    hidden_partner  unused -> consumed, credit redeemer AND a partner
                    account named at redemption time
    staff_onetime   unused -> consumed, credit the redeemer; an intended
                    recipient recorded at creation is audit-only, a
                    mismatch is allowed but flagged in the outcome
    mate            no transition; credit redeemer and owner a fixed
                    constant per use, record usage for display

  Every redemption runs in one atomic transaction: code state, balance,
  and ledger entries commit together or not at all. Two clients racing
  on the same single-use code get exactly one success and one
  CodeAlreadyUsed.

SEE ALSO:
  - codes.go: Code normalization and bulk generation
  - ledger/limits.go: Every credit is capped independently
*/
package redeem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lakshop/points-engine/ledger"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store ledger.Store

	// Clock is overridable for tests; defaults to time.Now.
	Clock func() time.Time
}

func NewEngine(store ledger.Store) *Engine {
	return &Engine{Store: store, Clock: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Outcome is the caller-facing result of a redemption.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	Credited int64 `json:"credited"`
	Overflow int64 `json:"overflow,omitempty"`

	// PartnerCredited is set for hidden-partner redemptions.
	PartnerCredited int64 `json:"partnerCredited,omitempty"`

	// Warning is set when a staff-onetime code is redeemed by someone
	// other than its intended recipient.
	Warning string `json:"warning,omitempty"`
}

// Input carries the redemption arguments.
type Input struct {
	AccountID ledger.AccountID
	RawCode   string

	// PartnerID names the second beneficiary of a hidden-partner code.
	PartnerID ledger.AccountID
}

// Redeem validates and consumes a code for the given account.
func (e *Engine) Redeem(ctx context.Context, in Input) (*Outcome, error) {
	token, err := Normalize(in.RawCode)
	if err != nil {
		return nil, err
	}

	var out *Outcome
	err = ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		now := e.now()

		settings, err := tx.Settings()
		if err != nil {
			return err
		}

		acct, err := tx.Account(in.AccountID)
		if err != nil {
			return err
		}
		if err := ledger.EnsureOperational(settings, acct.Role); err != nil {
			return err
		}
		if err := ledger.EnsureActive(acct, now); err != nil {
			return err
		}

		code, err := tx.Code(token)
		if err != nil {
			return err
		}

		out, err = e.redeemKind(tx, acct, code, in, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// redeemKind dispatches on the code's kind. Each branch implements the
// same contract: mutate state, credit through the limit enforcer, build
// the outcome.
func (e *Engine) redeemKind(tx ledger.Tx, acct *ledger.Account, code *ledger.Code, in Input, now time.Time) (*Outcome, error) {
	switch code.Kind {
	case ledger.CodeMate:
		return e.redeemMate(tx, acct, code, now)
	case ledger.CodeStandard, ledger.CodeHiddenPartner, ledger.CodeStaffOnetime:
		return e.redeemSingleUse(tx, acct, code, in, now)
	default:
		return nil, ledger.ErrCodeNotFound
	}
}

// =============================================================================
// SINGLE-USE KINDS (standard, hidden-partner, staff-onetime)
// =============================================================================

func (e *Engine) redeemSingleUse(tx ledger.Tx, acct *ledger.Account, code *ledger.Code, in Input, now time.Time) (*Outcome, error) {
	if code.OwnerID != "" && code.OwnerID == acct.ID {
		return nil, ledger.ErrSelfRedemption
	}
	if code.Consumed {
		return nil, ledger.ErrCodeAlreadyUsed
	}
	if code.Kind == ledger.CodeHiddenPartner && (in.PartnerID == "" || in.PartnerID == acct.ID) {
		return nil, ledger.ErrInvalidTarget
	}

	// Consume first: the version check on the code row is what turns a
	// concurrent double-redeem into exactly one winner.
	code.Consumed = true
	code.ConsumedBy = acct.ID
	if err := tx.PutCode(code); err != nil {
		return nil, err
	}

	res, err := ledger.Credit(tx, acct.ID, code.Value,
		fmt.Sprintf("code %s redeemed", code.Code), now)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Success:  true,
		Credited: res.Credited,
		Overflow: res.Overflow,
		Message:  fmt.Sprintf("Redeemed %s for %d points.", code.Code, res.Credited),
	}

	switch code.Kind {
	case ledger.CodeHiddenPartner:
		partner, err := tx.Account(in.PartnerID)
		if err != nil {
			return nil, err
		}
		if err := ledger.EnsureActive(partner, now); err != nil {
			return nil, err
		}
		pres, err := ledger.Credit(tx, partner.ID, code.Value,
			fmt.Sprintf("hidden partner code %s (named by %s)", code.Code, acct.ID), now)
		if err != nil {
			return nil, err
		}
		out.PartnerCredited = pres.Credited
		out.Message = fmt.Sprintf("Redeemed %s: %d points to you, %d to %s.",
			code.Code, res.Credited, pres.Credited, partner.ID)

	case ledger.CodeStaffOnetime:
		if code.IntendedFor != "" && code.IntendedFor != acct.ID {
			out.Warning = fmt.Sprintf("code was issued for %s but redeemed by %s",
				code.IntendedFor, acct.ID)
		}
	}

	return out, nil
}

// =============================================================================
// MATE CODES
// =============================================================================

func (e *Engine) redeemMate(tx ledger.Tx, acct *ledger.Account, code *ledger.Code, now time.Time) (*Outcome, error) {
	if code.OwnerID == acct.ID {
		return nil, ledger.ErrSelfRedemption
	}

	owner, err := tx.Account(code.OwnerID)
	if err != nil {
		return nil, err
	}

	res, err := ledger.Credit(tx, acct.ID, ledger.MateCodeReward,
		fmt.Sprintf("used mate code of %s", owner.ID), now)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.Credit(tx, owner.ID, ledger.MateCodeReward,
		fmt.Sprintf("mate code used by %s", acct.ID), now); err != nil {
		return nil, err
	}

	// Usage history is display-only; it never gates future use.
	if err := tx.AppendCodeUsage(ledger.CodeUsage{
		Code:   code.Code,
		UsedBy: acct.ID,
		UsedAt: now,
	}); err != nil {
		return nil, err
	}

	return &Outcome{
		Success:  true,
		Credited: res.Credited,
		Overflow: res.Overflow,
		Message:  fmt.Sprintf("Mate code accepted: you and %s each earned %d point.", owner.ID, ledger.MateCodeReward),
	}, nil
}

// Normalize lower-cases and trims a raw code token.
func Normalize(raw string) (string, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return "", ledger.ErrInvalidCode
	}
	return token, nil
}
