/*
admin.go - Staff and admin endpoints

PURPOSE:
  The operational surface reserved for staff roles: grant flows, code
  minting, catalog management, settings, restrictions, migrations, and
  the circulation report.

ENDPOINTS (all under /api/admin, staff token required):
  POST   /grants/batch             Batch grant to many accounts
  POST   /letters/{id}/approve     Approve a pending letter
  POST   /codes                    Bulk-generate codes
  GET    /codes/{code}/usages      Mate-code usage log
  POST   /products                 Create/update a product
  POST   /purchases/{id}/fulfill   Complete a pending POS purchase
  POST   /purchases/{id}/resolve   Resolve a dispute (optionally refund)
  GET    /settings                 Read platform settings
  PUT    /settings                 Replace platform settings
  POST   /accounts/{id}/restriction   Set a restriction window
  DELETE /accounts/{id}/restriction   Clear it
  POST   /migrations               Transplant one account onto another
  POST   /migrations/revert        Undo the most recent migration
  GET    /reports/circulation      Circulating vs piggy-bank totals

SEE ALSO:
  - handlers.go: Caller-facing endpoints and shared helpers
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakshop/points-engine/ledger"
	"github.com/lakshop/points-engine/redeem"
)

// =============================================================================
// GRANTS
// =============================================================================

// BatchGrant credits many accounts independently and reports per-target
// outcomes. Partial success is expected, not an error.
func (h *Handler) BatchGrant(w http.ResponseWriter, r *http.Request) {
	var req BatchGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	targets := make([]ledger.AccountID, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = ledger.AccountID(t)
	}

	report, err := h.Grants.BatchGrant(r.Context(), targets, req.Amount, req.Reason, identity(r).AccountID)
	if err != nil {
		writeDomainError(w, "Batch grant failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ApproveLetter approves a pending letter, crediting both parties.
func (h *Handler) ApproveLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Grants.ApproveLetter(r.Context(), id, identity(r).AccountID)
	if err != nil {
		writeDomainError(w, "Failed to approve letter", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// CODES
// =============================================================================

// GenerateCodes mints a batch of redeemable codes.
func (h *Handler) GenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req GenerateCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tokens, err := h.Redeem.GenerateBatch(r.Context(), redeem.BatchSpec{
		Kind:        ledger.CodeKind(req.Kind),
		Value:       req.Value,
		Count:       req.Count,
		CreatedBy:   identity(r).AccountID,
		IntendedFor: ledger.AccountID(req.IntendedFor),
	})
	if err != nil {
		writeDomainError(w, "Failed to generate codes", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"codes": tokens})
}

// GetCodeUsages returns the usage log of a mate code.
func (h *Handler) GetCodeUsages(w http.ResponseWriter, r *http.Request) {
	usages, err := h.Redeem.Usages(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, "Failed to load code usages", err)
		return
	}
	writeJSON(w, http.StatusOK, usages)
}

// =============================================================================
// CATALOG AND FULFILLMENT
// =============================================================================

// SaveProduct creates or updates a catalog product.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Shop.SaveProduct(r.Context(), ledger.Product{
		ID:    req.ID,
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		writeDomainError(w, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusOK, ProductDTO{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock})
}

// FulfillPurchase completes a pending POS purchase at handover.
func (h *Handler) FulfillPurchase(w http.ResponseWriter, r *http.Request) {
	if err := h.Shop.Fulfill(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to fulfill purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ResolveDispute closes an open dispute, optionally refunding the buyer
// and restoring stock.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Shop.ResolveDispute(r.Context(), chi.URLParam(r, "id"), req.Refund); err != nil {
		writeDomainError(w, "Failed to resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// SETTINGS AND RESTRICTIONS
// =============================================================================

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	var s ledger.Settings
	err := h.Store.WithTx(r.Context(), func(tx ledger.Tx) error {
		var err error
		s, err = tx.Settings()
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO(s))
}

// UpdateSettings replaces the settings singleton. Takes effect for
// every transaction that starts after the commit.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Store.WithTx(r.Context(), func(tx ledger.Tx) error {
		return tx.PutSettings(req.toSettings())
	})
	if err != nil {
		writeDomainError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// SetRestriction opens a restriction window on an account.
func (h *Handler) SetRestriction(w http.ResponseWriter, r *http.Request) {
	var req RestrictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	until, err := time.Parse(time.RFC3339, req.Until)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)", err)
		return
	}

	id := ledger.AccountID(chi.URLParam(r, "id"))
	err = ledger.Atomically(r.Context(), h.Store, func(tx ledger.Tx) error {
		acct, err := tx.Account(id)
		if err != nil {
			return err
		}
		acct.RestrictedUntil = &until
		acct.RestrictionReason = req.Reason
		return tx.PutAccount(acct)
	})
	if err != nil {
		writeDomainError(w, "Failed to set restriction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ClearRestriction lifts a restriction window early.
func (h *Handler) ClearRestriction(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	err := ledger.Atomically(r.Context(), h.Store, func(tx ledger.Tx) error {
		acct, err := tx.Account(id)
		if err != nil {
			return err
		}
		acct.RestrictedUntil = nil
		acct.RestrictionReason = ""
		return tx.PutAccount(acct)
	})
	if err != nil {
		writeDomainError(w, "Failed to clear restriction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// MIGRATIONS
// =============================================================================

// MigrateAccount transplants one account's balance and history onto
// another.
func (h *Handler) MigrateAccount(w http.ResponseWriter, r *http.Request) {
	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Migrate.Migrate(r.Context(),
		ledger.AccountID(req.FromID), ledger.AccountID(req.ToID))
	if err != nil {
		writeDomainError(w, "Migration failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RevertMigration undoes the most recent migration.
func (h *Handler) RevertMigration(w http.ResponseWriter, r *http.Request) {
	res, err := h.Migrate.RevertLastMigration(r.Context())
	if err != nil {
		writeDomainError(w, "Revert failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// REPORTS
// =============================================================================

// CirculationReport totals the economy: circulating balances across all
// accounts versus points parked in piggy-bank entries.
func (h *Handler) CirculationReport(w http.ResponseWriter, r *http.Request) {
	var report CirculationReportDTO
	err := h.Store.WithTx(r.Context(), func(tx ledger.Tx) error {
		accounts, err := tx.ListAccounts()
		if err != nil {
			return err
		}
		report.Accounts = len(accounts)
		for _, a := range accounts {
			report.Circulating += a.Balance
			entries, err := tx.Entries(a.ID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.ExcludedFromCirculation {
					report.PiggyBank += e.Amount
				}
			}
		}
		return nil
	})
	if err != nil {
		writeDomainError(w, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
