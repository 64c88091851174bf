package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

var ErrEmptyCart = errors.New("cart has no lines")

type Input struct {
	Lines         []domain.CartLine
	Cashier       domain.Cashier
	CustomerID    int64
	CustomerName  string
	DrawerID      int64
	PaidAmount    decimal.Decimal
	ChangeAmount  decimal.Decimal
	PaymentMethod string
	At            time.Time
}

type Recorder struct{}

func New() *Recorder {
	return &Recorder{}
}

// Total sums the line totals. Callers must not trust a precomputed total.
func Total(lines []domain.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// Record persists a completed sale header and one detail row per cart line.
// Cost prices are snapshotted from the product row as it is now.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, in Input) (*domain.Transaction, error) {
	if len(in.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	header := domain.Transaction{
		CustomerName:  in.CustomerName,
		DrawerID:      in.DrawerID,
		TotalAmount:   Total(in.Lines),
		PaidAmount:    nonNegative(in.PaidAmount),
		ChangeAmount:  nonNegative(in.ChangeAmount),
		Timestamp:     at,
		Type:          domain.TxTypeSale,
		Status:        domain.TxStatusCompleted,
		PaymentMethod: in.PaymentMethod,
		CashierID:     in.Cashier.ID,
		CashierName:   in.Cashier.Name,
		CashierRole:   in.Cashier.Role,
	}
	if !domain.IsWalkIn(in.CustomerID) {
		id := in.CustomerID
		header.CustomerID = &id
	}

	created, err := tx.InsertTransaction(ctx, header)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	created.Details = make([]domain.TransactionDetail, 0, len(in.Lines))
	for _, line := range in.Lines {
		product, err := tx.GetProductForUpdate(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", line.ProductID, err)
		}

		clamped := domain.CartLine{
			Quantity:  nonNegative(line.Quantity),
			UnitPrice: nonNegative(line.UnitPrice),
			Discount:  nonNegative(line.Discount),
		}
		name := line.ProductName
		if name == "" {
			name = product.Name
		}

		detail, err := tx.InsertTransactionDetail(ctx, domain.TransactionDetail{
			TransactionID: created.ID,
			ProductID:     product.ID,
			ProductName:   name,
			Quantity:      clamped.Quantity,
			UnitPrice:     clamped.UnitPrice,
			PurchasePrice: costOf(*product, line.IsBox),
			Discount:      clamped.Discount,
			Total:         clamped.LineTotal(),
			IsBox:         line.IsBox,
			IsWholesale:   line.IsWholesale,
		})
		if err != nil {
			return nil, fmt.Errorf("insert detail for product %d: %w", line.ProductID, err)
		}
		created.Details = append(created.Details, *detail)
	}
	return created, nil
}

func costOf(p domain.Product, box bool) decimal.Decimal {
	if !box {
		return p.PurchasePrice
	}
	if p.BoxPurchasePrice.IsPositive() {
		return p.BoxPurchasePrice
	}
	return p.PurchasePrice.Mul(decimal.NewFromInt(int64(p.ItemsPerBox)))
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
