/*
Package shop implements the purchase/payment processor.

PURPOSE:
  Turns a cart into a debit, a stock decrement, and a Purchase record -
  all inside one atomic transaction. Client-supplied prices are never
  trusted: the processor re-reads current stock and price, recomputes
  the discounted total, and only then moves points.

PURCHASE FLOW (single transaction):
  1. Re-read each product row (current stock and price)
  2. Compute the discounted total: global discount percent from the
     transaction-scoped settings snapshot, plus any staff discount from
     a cashier-assisted flow; rounded half-up to whole points
  3. Verify shopEnabled - unless the caller is a staff POS role, which
     may bypass the online-shop toggle
  4. Verify balance covers the total
  5. Decrement stock per item; ANY shortage fails the whole purchase
  6. Debit, write the ledger entry, create the Purchase record

  Online purchases complete immediately; cashier-assisted (POS) ones are
  created pending and completed by staff on fulfillment.

SEE ALSO:
  - dispute.go: open/resolve workflow over completed purchases
  - ledger/account.go: Debit primitive
*/
package shop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lakshop/points-engine/ledger"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store ledger.Store
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

// CartItem is the client's view of one line: product and quantity only.
// Prices always come from the store.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// PurchaseInput carries everything a purchase needs.
type PurchaseInput struct {
	AccountID ledger.AccountID
	Items     []CartItem

	// ExpectedTotal is what the client displayed to the user. A mismatch
	// with the recomputed total is surfaced in the receipt message, not
	// silently charged.
	ExpectedTotal int64

	// StaffDiscountPercent is a manual discount applied by a cashier.
	StaffDiscountPercent int64

	// ViaPOS marks a cashier-assisted flow: the online-shop toggle is
	// bypassed and the purchase awaits staff fulfillment.
	ViaPOS bool
}

// Receipt is the caller-facing result.
type Receipt struct {
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	PurchaseID  string                `json:"purchaseId"`
	ReceiptCode string                `json:"receiptCode"`
	Total       int64                 `json:"total"`
	Status      ledger.PurchaseStatus `json:"status"`
}

// Purchase executes the full flow described in the package comment.
func (e *Engine) Purchase(ctx context.Context, in PurchaseInput) (*Receipt, error) {
	if len(in.Items) == 0 {
		return nil, ledger.ErrInvalidAmount
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 || item.ProductID == "" {
			return nil, ledger.ErrInvalidAmount
		}
	}
	if in.StaffDiscountPercent < 0 || in.StaffDiscountPercent > 100 {
		return nil, ledger.ErrInvalidAmount
	}

	var receipt *Receipt
	err := ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
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
		if !settings.ShopEnabled && !in.ViaPOS {
			return ledger.ErrShopDisabled
		}

		// Merge duplicate lines first: each product row is written once
		// per transaction, so the same ID on two lines must become one
		// aggregated decrement, not two competing version-checked puts.
		merged := mergeLines(in.Items)

		// Re-price from current product rows and check stock before any
		// write, so a single shortage aborts cleanly.
		var (
			lineItems []ledger.PurchaseItem
			rawTotal  int64
			products  []*ledger.Product
		)
		for _, item := range merged {
			p, err := tx.Product(item.ProductID)
			if err != nil {
				return err
			}
			if p.Stock < item.Quantity {
				return &ledger.InsufficientStockError{
					ProductID: p.ID,
					Requested: item.Quantity,
					Available: p.Stock,
				}
			}
			lineItems = append(lineItems, ledger.PurchaseItem{
				ProductID: p.ID,
				Name:      p.Name,
				UnitPrice: p.Price,
				Quantity:  item.Quantity,
			})
			rawTotal += p.Price * item.Quantity
			products = append(products, p)
		}

		total := DiscountedTotal(rawTotal, settings.GlobalDiscountPercent, in.StaffDiscountPercent)

		if acct.Balance < total {
			return &ledger.InsufficientBalanceError{
				AccountID: acct.ID,
				Available: acct.Balance,
				Required:  total,
			}
		}

		for i, item := range merged {
			products[i].Stock -= item.Quantity
			if err := tx.PutProduct(products[i]); err != nil {
				return err
			}
		}

		receiptCode := NewReceiptCode()
		if err := ledger.Debit(tx, acct.ID, total,
			fmt.Sprintf("purchase %s", receiptCode), now); err != nil {
			return err
		}

		status := ledger.PurchaseCompleted
		if in.ViaPOS {
			status = ledger.PurchasePending
		}

		purchase := ledger.Purchase{
			ID:          uuid.NewString(),
			AccountID:   acct.ID,
			Items:       lineItems,
			TotalCost:   total,
			Status:      status,
			Dispute:     ledger.DisputeNone,
			ReceiptCode: receiptCode,
			CreatedAt:   now,
		}
		if err := tx.PutPurchase(&purchase); err != nil {
			return err
		}

		msg := fmt.Sprintf("Purchase %s: %d points.", receiptCode, total)
		if in.ExpectedTotal != 0 && in.ExpectedTotal != total {
			msg = fmt.Sprintf("Purchase %s: %d points (displayed total was %d).",
				receiptCode, total, in.ExpectedTotal)
		}
		receipt = &Receipt{
			Success:     true,
			Message:     msg,
			PurchaseID:  purchase.ID,
			ReceiptCode: receiptCode,
			Total:       total,
			Status:      status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Fulfill completes a pending (POS-created) purchase.
func (e *Engine) Fulfill(ctx context.Context, purchaseID string) error {
	return ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		p, err := tx.Purchase(purchaseID)
		if err != nil {
			return err
		}
		if p.Status == ledger.PurchaseCompleted {
			return nil // idempotent
		}
		p.Status = ledger.PurchaseCompleted
		return tx.PutPurchase(p)
	})
}

// mergeLines collapses duplicate product lines into one, summing the
// quantities and keeping first-seen order.
func mergeLines(items []CartItem) []CartItem {
	merged := make([]CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if at, ok := index[item.ProductID]; ok {
			merged[at].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// =============================================================================
// DISCOUNT MATH
// =============================================================================

// DiscountedTotal applies the combined discount percent to rawTotal.
// Whole-point rounding is half-up, matching the store-wide rule.
func DiscountedTotal(rawTotal, globalPercent, staffPercent int64) int64 {
	percent := globalPercent + staffPercent
	if percent <= 0 {
		return rawTotal
	}
	if percent >= 100 {
		return 0
	}
	factor := decimal.NewFromInt(100 - percent).Div(decimal.NewFromInt(100))
	return decimal.NewFromInt(rawTotal).Mul(factor).Round(0).IntPart()
}

// NewReceiptCode builds a short human-readable receipt token.
func NewReceiptCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "RCPT-" + raw
}
