/*
handlers.go - HTTP API handlers for the points platform

PURPOSE:
  Exposes the ledger engines via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS (caller-facing):
  Accounts:
    POST   /api/accounts                 Provision the caller's account
    GET    /api/accounts/{id}            Account details (self or staff)
    GET    /api/accounts/{id}/entries    Ledger history
    GET    /api/accounts/{id}/purchases  Purchase history

  Redemption:
    POST   /api/redeem                   Redeem a code

  Shop:
    GET    /api/products                 Catalog
    POST   /api/purchases                Buy a cart
    POST   /api/purchases/{id}/dispute   Open a dispute (buyer)

  Letters and teams:
    POST   /api/letters                  Submit a thank-you letter
    POST   /api/teams                    Create a team
    POST   /api/teams/{id}/join          Join a team

  Admin endpoints live in admin.go.

REQUEST FLOW:
  1. Parse HTTP request
  2. Resolve caller identity (auth.go)
  3. Call domain logic (redeem, shop, grants, migrate engines)
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Domain errors map onto HTTP status via statusFor:
  - 400: Validation errors, invalid input
  - 403: Policy refusals (maintenance, restriction, shop disabled)
  - 404: Document not found
  - 409: Conflicts (consumed code, duplicate, version races)
  - 503: Retry budget exhausted (safe to retry end to end)
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - admin.go: Staff/admin endpoints
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lakshop/points-engine/grants"
	"github.com/lakshop/points-engine/ledger"
	"github.com/lakshop/points-engine/migrate"
	"github.com/lakshop/points-engine/redeem"
	"github.com/lakshop/points-engine/shop"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   ledger.Store
	Redeem  *redeem.Engine
	Shop    *shop.Engine
	Grants  *grants.Engine
	Migrate *migrate.Manager
}

// NewHandler wires every engine onto the given store.
func NewHandler(store ledger.Store) *Handler {
	return &Handler{
		Store:   store,
		Redeem:  redeem.NewEngine(store),
		Shop:    shop.NewEngine(store),
		Grants:  grants.NewEngine(store),
		Migrate: migrate.NewManager(store),
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount provisions the ledger documents for the caller's
// identity: the account row plus their perpetual mate code. Idempotent
// for an already-provisioned account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	caller := identity(r)
	var acct *ledger.Account
	err := ledger.Atomically(r.Context(), h.Store, func(tx ledger.Tx) error {
		existing, err := tx.Account(caller.AccountID)
		if err == nil {
			acct = existing
			return nil
		}
		if !ledger.IsNotFound(err) {
			return err
		}
		a := &ledger.Account{
			ID:          caller.AccountID,
			DisplayName: req.DisplayName,
			Role:        caller.Role,
			CreatedAt:   time.Now().UTC(),
		}
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		writeDomainError(w, "Failed to create account", err)
		return
	}

	if acct.MateCode == "" {
		if _, err := h.Redeem.MintMateCode(r.Context(), acct.ID); err != nil {
			writeDomainError(w, "Failed to mint mate code", err)
			return
		}
	}

	// Re-read so the response carries the minted code.
	dto, err := h.loadAccountDTO(r, acct.ID)
	if err != nil {
		writeDomainError(w, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// GetAccount returns one account. Students may only read themselves.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if !h.canRead(r, id) {
		writeError(w, http.StatusForbidden, "Cannot read another account", nil)
		return
	}

	dto, err := h.loadAccountDTO(r, id)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetEntries returns the account's ledger history in creation order.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if !h.canRead(r, id) {
		writeError(w, http.StatusForbidden, "Cannot read another account", nil)
		return
	}

	var entries []ledger.Entry
	err := h.Store.WithTx(r.Context(), func(tx ledger.Tx) error {
		if _, err := tx.Account(id); err != nil {
			return err
		}
		var err error
		entries, err = tx.Entries(id)
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to load entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:          e.ID,
			Amount:      e.Amount,
			Kind:        string(e.Kind),
			Description: e.Description,
			PiggyBank:   e.ExcludedFromCirculation,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPurchases returns the account's purchase history.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if !h.canRead(r, id) {
		writeError(w, http.StatusForbidden, "Cannot read another account", nil)
		return
	}

	var purchases []ledger.Purchase
	err := h.Store.WithTx(r.Context(), func(tx ledger.Tx) error {
		var err error
		purchases, err = tx.PurchasesByAccount(id)
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to load purchases", err)
		return
	}

	dtos := make([]PurchaseDTO, len(purchases))
	for i, p := range purchases {
		dtos[i] = purchaseDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REDEMPTION
// =============================================================================

// RedeemCode redeems a code for the caller.
// POST /api/redeem
func (h *Handler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	out, err := h.Redeem.Redeem(r.Context(), redeem.Input{
		AccountID: identity(r).AccountID,
		RawCode:   req.Code,
		PartnerID: ledger.AccountID(req.PartnerID),
	})
	if err != nil {
		writeDomainError(w, "Redemption failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// SHOP
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Shop.ListProducts(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = ProductDTO{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePurchase buys a cart for the caller. Staff callers may buy on
// behalf of a student (POS flow) and apply a manual discount.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	caller := identity(r)
	in := shop.PurchaseInput{
		AccountID:     caller.AccountID,
		Items:         req.Items,
		ExpectedTotal: req.ExpectedTotal,
	}
	if caller.Role.Staff() {
		in.StaffDiscountPercent = req.StaffDiscountPercent
		in.ViaPOS = req.ViaPOS
		if req.AccountID != "" {
			in.AccountID = ledger.AccountID(req.AccountID)
		}
	}

	receipt, err := h.Shop.Purchase(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Purchase failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// OpenDispute flags a purchase for review. Only the buyer may open one.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Shop.OpenDispute(r.Context(), id, identity(r).AccountID); err != nil {
		writeDomainError(w, "Failed to open dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// LETTERS AND TEAMS
// =============================================================================

// SubmitLetter files a thank-you letter for staff approval.
func (h *Handler) SubmitLetter(w http.ResponseWriter, r *http.Request) {
	var req SubmitLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	letterID := uuid.NewString()
	err := h.Grants.SubmitLetter(r.Context(), letterID,
		identity(r).AccountID, ledger.AccountID(req.ReceiverID))
	if err != nil {
		writeDomainError(w, "Failed to submit letter", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "letterId": letterID})
}

// CreateTeam registers a new empty team.
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TeamID == "" {
		req.TeamID = uuid.NewString()
	}

	if err := h.Grants.CreateTeam(r.Context(), req.TeamID); err != nil {
		writeDomainError(w, "Failed to create team", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "teamId": req.TeamID})
}

// JoinTeam adds the caller to a team; the fifth member triggers the
// completion bonus for everyone.
func (h *Handler) JoinTeam(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "id")
	res, err := h.Grants.JoinTeam(r.Context(), identity(r).AccountID, teamID)
	if err != nil {
		writeDomainError(w, "Failed to join team", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) canRead(r *http.Request, id ledger.AccountID) bool {
	caller := identity(r)
	return caller.AccountID == id || caller.Role.Staff()
}

func (h *Handler) loadAccountDTO(r *http.Request, id ledger.AccountID) (*AccountDTO, error) {
	var acct *ledger.Account
	err := h.Store.WithTx(r.Context(), func(tx ledger.Tx) error {
		var err error
		acct, err = tx.Account(id)
		return err
	})
	if err != nil {
		return nil, err
	}

	dto := &AccountDTO{
		ID:           string(acct.ID),
		DisplayName:  acct.DisplayName,
		Role:         string(acct.Role),
		Balance:      acct.Balance,
		MateCode:     acct.MateCode,
		ActiveTeamID: acct.ActiveTeamID,
		Restricted:   acct.Restricted(time.Now()),
		CreatedAt:    acct.CreatedAt.Format(time.RFC3339),
	}
	if acct.RestrictedUntil != nil {
		dto.RestrictedUntil = acct.RestrictedUntil.Format(time.RFC3339)
	}
	return dto, nil
}

func purchaseDTO(p ledger.Purchase) PurchaseDTO {
	items := make([]PurchaseItemDTO, len(p.Items))
	for i, it := range p.Items {
		items[i] = PurchaseItemDTO{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}
	dto := PurchaseDTO{
		ID:          p.ID,
		Items:       items,
		TotalCost:   p.TotalCost,
		Status:      string(p.Status),
		ReceiptCode: p.ReceiptCode,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
	if p.Dispute != ledger.DisputeNone {
		dto.Dispute = string(p.Dispute)
	}
	return dto
}

// statusFor maps a domain error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case ledger.IsValidation(err):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case ledger.IsPolicy(err):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrRetryExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
