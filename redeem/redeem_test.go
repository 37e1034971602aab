package redeem_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakshop/points-engine/ledger"
	"github.com/lakshop/points-engine/ledger/store"
	"github.com/lakshop/points-engine/redeem"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var noon = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*redeem.Engine, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	e := redeem.NewEngine(m)
	e.Clock = func() time.Time { return noon }
	return e, m
}

func seedAccount(t *testing.T, m *store.Memory, id string) {
	t.Helper()
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.PutAccount(&ledger.Account{
			ID:        ledger.AccountID(id),
			Role:      ledger.RoleStudent,
			CreatedAt: noon,
		})
	})
	require.NoError(t, err)
}

func seedCode(t *testing.T, m *store.Memory, c ledger.Code) {
	t.Helper()
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.PutCode(&c)
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, m *store.Memory, id string) int64 {
	t.Helper()
	var balance int64
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		a, err := tx.Account(ledger.AccountID(id))
		if err != nil {
			return err
		}
		balance = a.Balance
		return nil
	})
	require.NoError(t, err)
	return balance
}

// =============================================================================
// STANDARD CODES
// =============================================================================

func TestRedeem_StandardCode_CreditsAndConsumes(t *testing.T) {
	// GIVEN: An unused 5-point standard code
	// WHEN: A student redeems it
	// THEN: The student is credited 5 and the code is consumed

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedCode(t, m, ledger.Code{Code: "lak-abc123", Kind: ledger.CodeStandard, Value: 5, CreatedAt: noon})

	out, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "lak-abc123"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, int64(5), out.Credited)
	assert.Equal(t, int64(5), balanceOf(t, m, "s1"))
}

func TestRedeem_SecondUse_Rejected(t *testing.T) {
	// GIVEN: A standard code already redeemed by s1
	// WHEN: s2 tries the same code
	// THEN: CodeAlreadyUsed; s2 earns nothing

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedAccount(t, m, "s2")
	seedCode(t, m, ledger.Code{Code: "lak-abc123", Kind: ledger.CodeStandard, Value: 5, CreatedAt: noon})

	_, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "lak-abc123"})
	require.NoError(t, err)

	_, err = e.Redeem(context.Background(), redeem.Input{AccountID: "s2", RawCode: "lak-abc123"})
	assert.ErrorIs(t, err, ledger.ErrCodeAlreadyUsed)
	assert.Equal(t, int64(0), balanceOf(t, m, "s2"))
}

func TestRedeem_CaseAndWhitespaceInsensitive(t *testing.T) {
	// GIVEN: A code stored under its normalized token
	// WHEN: Redeeming with different casing and surrounding spaces
	// THEN: The code matches

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedCode(t, m, ledger.Code{Code: "lak-abc123", Kind: ledger.CodeStandard, Value: 5, CreatedAt: noon})

	out, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "  LAK-ABC123  "})
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestRedeem_UnknownCode_NotFound(t *testing.T) {
	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")

	_, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "lak-nope"})
	assert.ErrorIs(t, err, ledger.ErrCodeNotFound)
}

func TestRedeem_EmptyCode_Invalid(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "   "})
	assert.ErrorIs(t, err, ledger.ErrInvalidCode)
}

func TestRedeem_CappedCredit_ReportsOverflow(t *testing.T) {
	// GIVEN: Limits on, a 10-point code, redeemer balance 20 (cap 25)
	// WHEN: Redeeming
	// THEN: The outcome reports 5 credited and 5 overflow; the code is
	//       still fully consumed

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		a, err := tx.Account("s1")
		if err != nil {
			return err
		}
		a.Balance = 20
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		s := ledger.DefaultSettings()
		s.PointLimitEnabled = true
		return tx.PutSettings(s)
	})
	require.NoError(t, err)
	seedCode(t, m, ledger.Code{Code: "lak-big", Kind: ledger.CodeStandard, Value: 10, CreatedAt: noon})

	out, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "lak-big"})
	require.NoError(t, err)

	assert.Equal(t, int64(5), out.Credited)
	assert.Equal(t, int64(5), out.Overflow)
	assert.Equal(t, int64(25), balanceOf(t, m, "s1"))

	_, err = e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "lak-big"})
	assert.ErrorIs(t, err, ledger.ErrCodeAlreadyUsed)
}

func TestRedeem_ConcurrentUse_ExactlyOneWinner(t *testing.T) {
	// GIVEN: One unused standard code and two racing redeemers
	// WHEN: Both redeem concurrently
	// THEN: Exactly one success and one CodeAlreadyUsed; the value is
	//       credited exactly once

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedAccount(t, m, "s2")
	seedCode(t, m, ledger.Code{Code: "lak-race", Kind: ledger.CodeStandard, Value: 5, CreatedAt: noon})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, redeemer := range []string{"s1", "s2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.Redeem(context.Background(), redeem.Input{
				AccountID: ledger.AccountID(id), RawCode: "lak-race"})
			errs <- err
		}(redeemer)
	}
	wg.Wait()
	close(errs)

	var successes, rejections int
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ledger.ErrCodeAlreadyUsed)
		rejections++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)
	assert.Equal(t, int64(5), balanceOf(t, m, "s1")+balanceOf(t, m, "s2"))
}

// =============================================================================
// MATE CODES
// =============================================================================

func TestRedeem_MateCode_CreditsBothPartiesEachUse(t *testing.T) {
	// GIVEN: Owner s1 with a mate code, redeemers s2 and s3
	// WHEN: Both redeem it
	// THEN: Each redeemer earns 1; the owner earns 1 per use; the code
	//       never consumes

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedAccount(t, m, "s2")
	seedAccount(t, m, "s3")
	seedCode(t, m, ledger.Code{Code: "mate-s1", Kind: ledger.CodeMate, Value: 0, OwnerID: "s1", CreatedAt: noon})

	for _, redeemer := range []string{"s2", "s3"} {
		out, err := e.Redeem(context.Background(), redeem.Input{
			AccountID: ledger.AccountID(redeemer), RawCode: "mate-s1"})
		require.NoError(t, err)
		assert.Equal(t, ledger.MateCodeReward, out.Credited)
	}

	assert.Equal(t, int64(2), balanceOf(t, m, "s1"))
	assert.Equal(t, int64(1), balanceOf(t, m, "s2"))
	assert.Equal(t, int64(1), balanceOf(t, m, "s3"))

	usages, err := e.Usages(context.Background(), "mate-s1")
	require.NoError(t, err)
	assert.Len(t, usages, 2)
}

func TestRedeem_MateCode_OwnerCannotSelfRedeem(t *testing.T) {
	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedCode(t, m, ledger.Code{Code: "mate-s1", Kind: ledger.CodeMate, OwnerID: "s1", CreatedAt: noon})

	_, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "mate-s1"})
	assert.ErrorIs(t, err, ledger.ErrSelfRedemption)
	assert.Equal(t, int64(0), balanceOf(t, m, "s1"))
}

// =============================================================================
// HIDDEN PARTNER CODES
// =============================================================================

func TestRedeem_HiddenPartner_CreditsNamedPartner(t *testing.T) {
	// GIVEN: An unused hidden-partner code worth 4
	// WHEN: s1 redeems it naming s2
	// THEN: Both earn 4

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedAccount(t, m, "s2")
	seedCode(t, m, ledger.Code{Code: "duo-x1", Kind: ledger.CodeHiddenPartner, Value: 4, CreatedAt: noon})

	out, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "duo-x1", PartnerID: "s2"})
	require.NoError(t, err)

	assert.Equal(t, int64(4), out.Credited)
	assert.Equal(t, int64(4), out.PartnerCredited)
	assert.Equal(t, int64(4), balanceOf(t, m, "s1"))
	assert.Equal(t, int64(4), balanceOf(t, m, "s2"))
}

func TestRedeem_HiddenPartner_RequiresDistinctPartner(t *testing.T) {
	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedAccount(t, m, "s2")
	seedCode(t, m, ledger.Code{Code: "duo-x1", Kind: ledger.CodeHiddenPartner, Value: 4, CreatedAt: noon})

	for name, partner := range map[string]ledger.AccountID{
		"missing partner": "",
		"self as partner": "s1",
	} {
		_, err := e.Redeem(context.Background(), redeem.Input{
			AccountID: "s1", RawCode: "duo-x1", PartnerID: partner})
		assert.ErrorIs(t, err, ledger.ErrInvalidTarget, name)
	}

	// The rejections happened before any write: nobody was credited and
	// the code is still redeemable with a valid partner.
	assert.Equal(t, int64(0), balanceOf(t, m, "s1"))

	out, err := e.Redeem(context.Background(), redeem.Input{
		AccountID: "s1", RawCode: "duo-x1", PartnerID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), out.Credited)
}

// =============================================================================
// STAFF ONE-TIME CODES
// =============================================================================

func TestRedeem_StaffOnetime_WrongRecipientSucceedsWithWarning(t *testing.T) {
	// GIVEN: A staff code intended for s2
	// WHEN: s1 redeems it
	// THEN: The redemption succeeds but the outcome carries a warning

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedCode(t, m, ledger.Code{
		Code: "stf-77", Kind: ledger.CodeStaffOnetime, Value: 3,
		IntendedFor: "s2", CreatedAt: noon,
	})

	out, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "stf-77"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.NotEmpty(t, out.Warning)
	assert.Equal(t, int64(3), balanceOf(t, m, "s1"))
}

func TestRedeem_StaffOnetime_IntendedRecipientNoWarning(t *testing.T) {
	e, m := newTestEngine(t)
	seedAccount(t, m, "s2")
	seedCode(t, m, ledger.Code{
		Code: "stf-77", Kind: ledger.CodeStaffOnetime, Value: 3,
		IntendedFor: "s2", CreatedAt: noon,
	})

	out, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s2", RawCode: "stf-77"})
	require.NoError(t, err)
	assert.Empty(t, out.Warning)
}

// =============================================================================
// POLICY GATES
// =============================================================================

func TestRedeem_RestrictedAccount_Rejected(t *testing.T) {
	e, m := newTestEngine(t)
	until := noon.Add(time.Hour)
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.PutAccount(&ledger.Account{
			ID: "s1", Role: ledger.RoleStudent,
			RestrictedUntil: &until, CreatedAt: noon,
		})
	})
	require.NoError(t, err)
	seedCode(t, m, ledger.Code{Code: "lak-x", Kind: ledger.CodeStandard, Value: 5, CreatedAt: noon})

	_, err = e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "lak-x"})
	assert.ErrorIs(t, err, ledger.ErrAccountRestricted)
}

func TestRedeem_MaintenanceMode_Rejected(t *testing.T) {
	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")
	seedCode(t, m, ledger.Code{Code: "lak-x", Kind: ledger.CodeStandard, Value: 5, CreatedAt: noon})
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		s := ledger.DefaultSettings()
		s.MaintenanceMode = true
		return tx.PutSettings(s)
	})
	require.NoError(t, err)

	_, err = e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: "lak-x"})
	assert.ErrorIs(t, err, ledger.ErrMaintenanceMode)
}

// =============================================================================
// CODE GENERATION
// =============================================================================

func TestGenerateBatch_MintsUniqueNormalizedCodes(t *testing.T) {
	// GIVEN: A batch spec for 20 standard codes worth 5
	// WHEN: Generating
	// THEN: 20 distinct lower-case tokens, each redeemable once

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")

	tokens, err := e.GenerateBatch(context.Background(), redeem.BatchSpec{
		Kind: ledger.CodeStandard, Value: 5, Count: 20, CreatedBy: "t1",
	})
	require.NoError(t, err)
	require.Len(t, tokens, 20)

	seen := make(map[string]bool)
	for _, tok := range tokens {
		assert.Equal(t, strings.ToLower(tok), tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}

	out, err := e.Redeem(context.Background(), redeem.Input{AccountID: "s1", RawCode: tokens[0]})
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.Credited)
}

func TestGenerateBatch_RejectsMateKind(t *testing.T) {
	// Mate codes are minted per-account, never in bulk.
	e, _ := newTestEngine(t)

	_, err := e.GenerateBatch(context.Background(), redeem.BatchSpec{
		Kind: ledger.CodeMate, Value: 1, Count: 5,
	})
	assert.Error(t, err)
}

func TestMintMateCode_Idempotent(t *testing.T) {
	// GIVEN: An account without a mate code
	// WHEN: Minting twice
	// THEN: Both calls return the same token

	e, m := newTestEngine(t)
	seedAccount(t, m, "s1")

	first, err := e.MintMateCode(context.Background(), "s1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := e.MintMateCode(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
