// Package inventory decrements product stock inside a checkout transaction.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/store"
)

var ErrNegativeQuantity = errors.New("inventory: negative quantity")

type Adjuster struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Adjuster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjuster{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// DecreaseUnits removes qty loose units. It reports false without an error
// when the product does not exist. Stock never goes below zero; an over-sell
// is clamped and logged.
func (a *Adjuster) DecreaseUnits(ctx context.Context, tx store.Tx, productID int64, qty decimal.Decimal) (bool, error) {
	if qty.IsNegative() {
		return false, ErrNegativeQuantity
	}
	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load product %d: %w", productID, err)
	}

	units := a.clamp(product.CurrentStock.Sub(qty), productID, "unit")
	if err := tx.UpdateProductStock(ctx, productID, units, product.BoxStock, a.now()); err != nil {
		return false, fmt.Errorf("update stock of product %d: %w", productID, err)
	}
	return true, nil
}

// DecreaseBoxes removes whole boxes. Each box also debits ItemsPerBox loose
// units because the two counters are stored separately.
func (a *Adjuster) DecreaseBoxes(ctx context.Context, tx store.Tx, productID int64, boxes decimal.Decimal) (bool, error) {
	if boxes.IsNegative() {
		return false, ErrNegativeQuantity
	}
	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load product %d: %w", productID, err)
	}

	boxStock := a.clamp(product.BoxStock.Sub(boxes), productID, "box")
	perBox := decimal.NewFromInt(int64(product.ItemsPerBox))
	units := a.clamp(product.CurrentStock.Sub(boxes.Mul(perBox)), productID, "unit")
	if err := tx.UpdateProductStock(ctx, productID, units, boxStock, a.now()); err != nil {
		return false, fmt.Errorf("update stock of product %d: %w", productID, err)
	}
	return true, nil
}

func (a *Adjuster) clamp(v decimal.Decimal, productID int64, counter string) decimal.Decimal {
	if !v.IsNegative() {
		return v
	}
	a.logger.Warn("stock would go negative, clamping to zero",
		slog.Int64("product_id", productID),
		slog.String("counter", counter),
		slog.String("shortfall", v.Neg().String()),
	)
	return decimal.Zero
}
