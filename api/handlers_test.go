package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakshop/points-engine/api"
	"github.com/lakshop/points-engine/ledger"
	"github.com/lakshop/points-engine/ledger/store"
	"github.com/lakshop/points-engine/shop"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	router := api.NewRouter(api.NewHandler(m), testSecret, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, m
}

func tokenFor(t *testing.T, id string, role ledger.Role) string {
	t.Helper()
	tok, err := api.IssueToken(testSecret, ledger.AccountID(id), role, time.Hour)
	require.NoError(t, err)
	return tok
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_Healthz_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_MissingToken_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_TamperedToken_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	tok, err := api.IssueToken([]byte("wrong-secret"), "s1", ledger.RoleStudent, time.Hour)
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_StudentHitsAdminRoute_Forbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/admin/settings",
		tokenFor(t, "s1", ledger.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

func TestAPI_CreateAccount_ProvisionsWithMateCode(t *testing.T) {
	// GIVEN: A fresh student token
	// WHEN: POSTing /api/accounts
	// THEN: The account exists with a minted mate code; repeating the
	//       call is idempotent

	srv, _ := newTestServer(t)
	tok := tokenFor(t, "s1", ledger.RoleStudent)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", tok,
		api.CreateAccountRequest{DisplayName: "Sam"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dto := decode[api.AccountDTO](t, resp)
	assert.Equal(t, "s1", dto.ID)
	assert.Equal(t, "Sam", dto.DisplayName)
	assert.NotEmpty(t, dto.MateCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/accounts", tok,
		api.CreateAccountRequest{DisplayName: "Sam again"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	again := decode[api.AccountDTO](t, resp)
	assert.Equal(t, "Sam", again.DisplayName)
	assert.Equal(t, dto.MateCode, again.MateCode)
}

func TestAPI_StudentCannotReadAnotherAccount(t *testing.T) {
	srv, m := newTestServer(t)
	seedAPIAccount(t, m, "s2", ledger.RoleStudent, 0)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/s2",
		tokenFor(t, "s1", ledger.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Staff can.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/s2",
		tokenFor(t, "t1", ledger.RoleTeacher), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func seedAPIAccount(t *testing.T, m *store.Memory, id string, role ledger.Role, balance int64) {
	t.Helper()
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.PutAccount(&ledger.Account{
			ID:        ledger.AccountID(id),
			Role:      role,
			Balance:   balance,
			CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_DomainErrorsMapToStatusCodes(t *testing.T) {
	srv, m := newTestServer(t)
	seedAPIAccount(t, m, "s1", ledger.RoleStudent, 0)
	tok := tokenFor(t, "s1", ledger.RoleStudent)

	// Unknown code -> 404
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/redeem", tok,
		api.RedeemRequest{Code: "lak-nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Empty code -> 400
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/redeem", tok,
		api.RedeemRequest{Code: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Already-used code -> 409
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		now := time.Now().UTC()
		return tx.PutCode(&ledger.Code{
			Code: "lak-used", Kind: ledger.CodeStandard, Value: 5,
			Consumed: true, ConsumedBy: "someone", CreatedAt: now,
		})
	})
	require.NoError(t, err)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/redeem", tok,
		api.RedeemRequest{Code: "lak-used"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_MaintenanceMode_Forbidden(t *testing.T) {
	srv, m := newTestServer(t)
	seedAPIAccount(t, m, "s1", ledger.RoleStudent, 0)
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		s := ledger.DefaultSettings()
		s.MaintenanceMode = true
		return tx.PutSettings(s)
	})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/redeem",
		tokenFor(t, "s1", ledger.RoleStudent), api.RedeemRequest{Code: "lak-x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// REDEEM AND SHOP FLOW
// =============================================================================

func TestAPI_RedeemThenPurchase(t *testing.T) {
	// GIVEN: A seeded 15-point code and a product priced 10
	// WHEN: A student redeems then buys
	// THEN: Both round-trips succeed and the balance lands at 5

	srv, m := newTestServer(t)
	seedAPIAccount(t, m, "s1", ledger.RoleStudent, 0)
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		now := time.Now().UTC()
		if err := tx.PutCode(&ledger.Code{
			Code: "lak-big", Kind: ledger.CodeStandard, Value: 15, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.PutProduct(&ledger.Product{
			ID: "p1", Name: "sticker pack", Price: 10, Stock: 3,
		})
	})
	require.NoError(t, err)
	tok := tokenFor(t, "s1", ledger.RoleStudent)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/redeem", tok,
		api.RedeemRequest{Code: "LAK-BIG"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/purchases", tok,
		api.PurchaseRequest{Items: []shop.CartItem{{ProductID: "p1", Quantity: 1}}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/s1", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decode[api.AccountDTO](t, resp)
	assert.Equal(t, int64(5), dto.Balance)
}

// =============================================================================
// ADMIN ROUTES
// =============================================================================

func TestAPI_AdminGeneratesAndStudentRedeems(t *testing.T) {
	srv, m := newTestServer(t)
	seedAPIAccount(t, m, "s1", ledger.RoleStudent, 0)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/codes",
		tokenFor(t, "t1", ledger.RoleTeacher),
		api.GenerateCodesRequest{Kind: "standard", Value: 5, Count: 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Codes []string `json:"codes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Codes, 3)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/redeem",
		tokenFor(t, "s1", ledger.RoleStudent),
		api.RedeemRequest{Code: out.Codes[0]})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RestrictionLifecycle(t *testing.T) {
	// GIVEN: An admin restricts s1
	// WHEN: s1 tries to redeem, then the restriction is cleared
	// THEN: 403 while restricted, normal flow after

	srv, m := newTestServer(t)
	seedAPIAccount(t, m, "s1", ledger.RoleStudent, 0)
	err := m.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.PutCode(&ledger.Code{
			Code: "lak-x", Kind: ledger.CodeStandard, Value: 5,
			CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)
	admin := tokenFor(t, "a1", ledger.RoleAdmin)
	student := tokenFor(t, "s1", ledger.RoleStudent)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/accounts/s1/restriction",
		admin, api.RestrictionRequest{
			Until:  time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			Reason: "shop misuse",
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/redeem", student,
		api.RedeemRequest{Code: "lak-x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete,
		srv.URL+"/api/admin/accounts/s1/restriction", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+admin)
	clearResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer clearResp.Body.Close()
	require.Equal(t, http.StatusOK, clearResp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/redeem", student,
		api.RedeemRequest{Code: "lak-x"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
