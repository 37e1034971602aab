/*
dispute.go - Purchase dispute workflow

A buyer may open one dispute per purchase; staff resolve it, optionally
refunding the points. Refunds restore previously spent points, so they
bypass the daily-earn cap (they are not earnings).
*/
package shop

import (
	"context"
	"fmt"

	"github.com/lakshop/points-engine/ledger"
)

// OpenDispute flags a purchase as disputed. Only the buyer may open,
// and only once.
func (e *Engine) OpenDispute(ctx context.Context, purchaseID string, by ledger.AccountID) error {
	return ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		p, err := tx.Purchase(purchaseID)
		if err != nil {
			return err
		}
		if p.AccountID != by {
			return ledger.ErrPurchaseNotFound
		}
		if p.Dispute != ledger.DisputeNone {
			return ledger.ErrDisputeState
		}
		p.Dispute = ledger.DisputeOpen
		return tx.PutPurchase(p)
	})
}

// ResolveDispute closes an open dispute. With refund=true the full
// purchase total is credited back and the stock restored.
func (e *Engine) ResolveDispute(ctx context.Context, purchaseID string, refund bool) error {
	return ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		p, err := tx.Purchase(purchaseID)
		if err != nil {
			return err
		}
		if p.Dispute != ledger.DisputeOpen {
			return ledger.ErrDisputeState
		}

		if refund {
			now := e.now()
			if err := ledger.CreditUncapped(tx, p.AccountID, p.TotalCost,
				fmt.Sprintf("refund for %s", p.ReceiptCode), now); err != nil {
				return err
			}
			for _, item := range p.Items {
				prod, err := tx.Product(item.ProductID)
				if err != nil {
					// Product may have been retired since; the refund
					// still stands.
					if ledger.IsNotFound(err) {
						continue
					}
					return err
				}
				prod.Stock += item.Quantity
				if err := tx.PutProduct(prod); err != nil {
					return err
				}
			}
		}

		p.Dispute = ledger.DisputeResolved
		return tx.PutPurchase(p)
	})
}
