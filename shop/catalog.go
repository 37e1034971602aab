/*
catalog.go - Product administration

Products are plain versioned documents; price and stock edits go through
the same optimistic-concurrency path as everything else so a cashier
restock never tramples a concurrent sale.
*/
package shop

import (
	"context"

	"github.com/google/uuid"

	"github.com/lakshop/points-engine/ledger"
)

// SaveProduct creates or updates a product. An empty ID creates.
func (e *Engine) SaveProduct(ctx context.Context, p ledger.Product) (ledger.Product, error) {
	if p.Price < 0 || p.Stock < 0 {
		return ledger.Product{}, ledger.ErrInvalidAmount
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := ledger.Atomically(ctx, e.Store, func(tx ledger.Tx) error {
		existing, err := tx.Product(p.ID)
		if err == nil {
			p.Version = existing.Version
		} else if !ledger.IsNotFound(err) {
			return err
		}
		return tx.PutProduct(&p)
	})
	if err != nil {
		return ledger.Product{}, err
	}
	return p, nil
}

// ListProducts returns the catalog.
func (e *Engine) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	var out []ledger.Product
	err := e.Store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		out, err = tx.ListProducts()
		return err
	})
	return out, err
}
