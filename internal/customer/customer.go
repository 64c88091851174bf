package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

var ErrWalkInCustomer = errors.New("walk-in customer has no balance")

type Ledger struct {
	repo   store.TxRunner
	logger *slog.Logger
	now    func() time.Time
}

func New(repo store.TxRunner, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Adjust applies a signed delta to the customer's balance inside tx. A
// positive delta is new debt.
func (l *Ledger) Adjust(ctx context.Context, tx store.Tx, customerID int64, delta decimal.Decimal) (*domain.Customer, error) {
	if domain.IsWalkIn(customerID) {
		return nil, ErrWalkInCustomer
	}
	c, err := tx.GetCustomerForUpdate(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("customer %d: %w", customerID, err)
	}
	if delta.IsZero() {
		return c, nil
	}

	c.Balance = c.Balance.Add(delta)
	c.UpdatedAt = l.now()
	if err := tx.UpdateCustomerBalance(ctx, c.ID, c.Balance, c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update balance of customer %d: %w", customerID, err)
	}
	return c, nil
}

// AdjustBalance runs Adjust in its own transaction.
func (l *Ledger) AdjustBalance(ctx context.Context, customerID int64, delta decimal.Decimal) (*domain.Customer, error) {
	var out *domain.Customer
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := l.Adjust(ctx, tx, customerID, delta)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("customer balance adjusted",
		slog.Int64("customer_id", customerID),
		slog.String("delta", delta.String()),
		slog.String("balance", out.Balance.String()),
	)
	return out, nil
}
