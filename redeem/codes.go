/*
codes.go - Code creation and bulk generation

PURPOSE:
  Staff create codes one at a time or in bulk (e.g. a stack of booth
  tickets). Tokens are derived from UUIDs, prefixed by kind, and stored
  normalized to lower case so lookups are case-insensitive.

TOKEN FORMAT:
  lak-<8 hex chars>   standard
  duo-<8 hex chars>   hidden-partner
  stf-<8 hex chars>   staff-onetime

  Mate codes are minted once per account at signup (mate-<8 hex chars>)
  and never regenerated.
*/
package redeem

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lakshop/points-engine/ledger"
)

// =============================================================================
// GENERATION
// =============================================================================

// BatchSpec describes a bulk generation request.
type BatchSpec struct {
	Kind        ledger.CodeKind
	Value       int64
	Count       int
	CreatedBy   ledger.AccountID
	IntendedFor ledger.AccountID // staff-onetime only
}

// GenerateBatch creates Count codes in one transaction and returns the
// freshly minted tokens.
func (e *Engine) GenerateBatch(ctx context.Context, spec BatchSpec) ([]string, error) {
	if spec.Count <= 0 || spec.Value <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if spec.Kind == ledger.CodeMate {
		// Mate codes belong to accounts, not batches.
		return nil, ledger.ErrInvalidCode
	}

	now := e.now()
	tokens := make([]string, 0, spec.Count)
	err := e.Store.WithTx(ctx, func(tx ledger.Tx) error {
		for i := 0; i < spec.Count; i++ {
			token := NewToken(spec.Kind)
			code := ledger.Code{
				Code:        token,
				Kind:        spec.Kind,
				Value:       spec.Value,
				CreatedBy:   spec.CreatedBy,
				IntendedFor: spec.IntendedFor,
				CreatedAt:   now,
			}
			if err := tx.PutCode(&code); err != nil {
				return err
			}
			tokens = append(tokens, token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// MintMateCode creates the account's own reusable code. Called once at
// signup; calling it again for an account that already has one is a
// no-op returning the existing token.
func (e *Engine) MintMateCode(ctx context.Context, accountID ledger.AccountID) (string, error) {
	var token string
	err := ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		acct, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if acct.MateCode != "" {
			token = acct.MateCode
			return nil
		}

		token = NewToken(ledger.CodeMate)
		code := ledger.Code{
			Code:      token,
			Kind:      ledger.CodeMate,
			Value:     ledger.MateCodeReward,
			OwnerID:   acct.ID,
			CreatedAt: e.now(),
		}
		if err := tx.PutCode(&code); err != nil {
			return err
		}

		acct.MateCode = token
		return tx.PutAccount(acct)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// NewToken derives a fresh token for the kind from a UUID.
func NewToken(kind ledger.CodeKind) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	switch kind {
	case ledger.CodeHiddenPartner:
		return fmt.Sprintf("duo-%s", raw)
	case ledger.CodeStaffOnetime:
		return fmt.Sprintf("stf-%s", raw)
	case ledger.CodeMate:
		return fmt.Sprintf("mate-%s", raw)
	default:
		return fmt.Sprintf("lak-%s", raw)
	}
}

// Usages returns the display-only usage history of a mate code.
func (e *Engine) Usages(ctx context.Context, rawCode string) ([]ledger.CodeUsage, error) {
	token, err := Normalize(rawCode)
	if err != nil {
		return nil, err
	}
	var usages []ledger.CodeUsage
	err = e.Store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.Code(token); err != nil {
			return err
		}
		usages, err = tx.CodeUsages(token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return usages, nil
}
