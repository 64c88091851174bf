// Package drawer keeps the cash till aggregate for a cashier session. Every
// mutation re-reads the drawer under lock, recomputes the derived totals from
// their components and appends immutable ledger and history rows.
package drawer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

var (
	ErrDrawerNotOpen    = errors.New("drawer is not open")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInsufficientCash = errors.New("amount exceeds drawer balance")
)

type Repository interface {
	store.TxRunner
	GetOpenDrawer(ctx context.Context, cashierID int64) (*domain.Drawer, error)
}

type Ledger struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func New(repo Repository, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Open returns the cashier's open drawer, creating one only when none exists.
func (l *Ledger) Open(ctx context.Context, cashier domain.Cashier, openingBalance decimal.Decimal) (*domain.Drawer, error) {
	if openingBalance.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var opened *domain.Drawer
	created := false
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetOpenDrawerForUpdate(ctx, cashier.ID)
		if err == nil {
			opened = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := l.now()
		d := domain.Drawer{
			CashierID:      cashier.ID,
			CashierName:    cashier.Name,
			OpeningBalance: openingBalance,
			Status:         domain.DrawerStatusOpen,
			OpenedAt:       now,
			DailyDate:      startOfDay(now),
		}
		recompute(&d)
		appendNote(&d, now, fmt.Sprintf("Opened by %s with %s", cashier.Name, openingBalance.StringFixed(2)))

		inserted, err := tx.InsertDrawer(ctx, d)
		if err != nil {
			return err
		}
		if err := tx.InsertDrawerTransaction(ctx, domain.DrawerTransaction{
			DrawerID:     inserted.ID,
			Type:         domain.DrawerTxOpen,
			Amount:       openingBalance,
			BalanceAfter: inserted.CurrentBalance,
			CashierID:    cashier.ID,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if err := tx.InsertDrawerHistory(ctx, domain.DrawerHistory{
			DrawerID:      inserted.ID,
			Action:        domain.DrawerTxOpen,
			Description:   "drawer opened",
			BalanceBefore: decimal.Zero,
			BalanceAfter:  inserted.CurrentBalance,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		opened = inserted
		created = true
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		// another terminal opened it first
		return l.repo.GetOpenDrawer(ctx, cashier.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("open drawer for cashier %d: %w", cashier.ID, err)
	}
	if created {
		l.logger.Info("drawer opened", slog.Int64("drawer_id", opened.ID), slog.Int64("cashier_id", cashier.ID))
	}
	return opened, nil
}

func (l *Ledger) CashIn(ctx context.Context, drawerID int64, amount decimal.Decimal, notes string) (*domain.Drawer, error) {
	return l.movement(ctx, drawerID, domain.DrawerTxCashIn, amount, notes)
}

func (l *Ledger) CashOut(ctx context.Context, drawerID int64, amount decimal.Decimal, notes string) (*domain.Drawer, error) {
	return l.movement(ctx, drawerID, domain.DrawerTxCashOut, amount, notes)
}

func (l *Ledger) RecordExpense(ctx context.Context, drawerID int64, amount decimal.Decimal, notes string) (*domain.Drawer, error) {
	return l.movement(ctx, drawerID, domain.DrawerTxExpense, amount, notes)
}

func (l *Ledger) RecordSupplierPayment(ctx context.Context, drawerID int64, amount decimal.Decimal, notes string) (*domain.Drawer, error) {
	return l.movement(ctx, drawerID, domain.DrawerTxSupplierPayment, amount, notes)
}

func (l *Ledger) movement(ctx context.Context, drawerID int64, kind string, amount decimal.Decimal, notes string) (*domain.Drawer, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var out *domain.Drawer
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := l.mutate(ctx, tx, drawerID, kind, func(d *domain.Drawer) (string, []domain.DrawerTransaction, error) {
			if isOutflow(kind) && amount.GreaterThan(d.CurrentBalance) {
				return "", nil, ErrInsufficientCash
			}
			add(d, kind, amount)
			line := fmt.Sprintf("%s %s", strings.ReplaceAll(kind, "_", " "), amount.StringFixed(2))
			if notes = strings.TrimSpace(notes); notes != "" {
				line += ": " + notes
			}
			return line, []domain.DrawerTransaction{{Type: kind, Amount: amount, Notes: notes}}, nil
		})
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("drawer movement",
		slog.Int64("drawer_id", drawerID),
		slog.String("type", kind),
		slog.String("amount", amount.String()),
		slog.String("balance", out.CurrentBalance.String()),
	)
	return out, nil
}

// UpdateFromSale posts sale, expense and supplier payment amounts in one
// mutation. All-zero input is a successful no-op.
func (l *Ledger) UpdateFromSale(ctx context.Context, drawerID int64, sales, expenses, supplierPayments decimal.Decimal) (*domain.Drawer, error) {
	var out *domain.Drawer
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := l.updateFromSale(ctx, tx, drawerID, sales, expenses, supplierPayments, "")
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplySale adds cash received for a sale inside the caller's transaction.
func (l *Ledger) ApplySale(ctx context.Context, tx store.Tx, drawerID int64, cash decimal.Decimal, reference string) (*domain.Drawer, error) {
	return l.updateFromSale(ctx, tx, drawerID, cash, decimal.Zero, decimal.Zero, reference)
}

func (l *Ledger) updateFromSale(ctx context.Context, tx store.Tx, drawerID int64, sales, expenses, supplierPayments decimal.Decimal, reference string) (*domain.Drawer, error) {
	if sales.IsNegative() || expenses.IsNegative() || supplierPayments.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if sales.IsZero() && expenses.IsZero() && supplierPayments.IsZero() {
		d, err := tx.GetDrawerForUpdate(ctx, drawerID)
		if err != nil {
			return nil, fmt.Errorf("drawer %d: %w", drawerID, err)
		}
		if !d.IsOpen() {
			return nil, ErrDrawerNotOpen
		}
		return d, nil
	}

	return l.mutate(ctx, tx, drawerID, domain.DrawerTxSale, func(d *domain.Drawer) (string, []domain.DrawerTransaction, error) {
		entries := make([]domain.DrawerTransaction, 0, 3)
		parts := make([]string, 0, 3)
		for _, m := range []struct {
			kind   string
			amount decimal.Decimal
		}{
			{domain.DrawerTxSale, sales},
			{domain.DrawerTxExpense, expenses},
			{domain.DrawerTxSupplierPayment, supplierPayments},
		} {
			if m.amount.IsZero() {
				continue
			}
			add(d, m.kind, m.amount)
			entries = append(entries, domain.DrawerTransaction{Type: m.kind, Amount: m.amount, Reference: reference})
			parts = append(parts, fmt.Sprintf("%s %s", strings.ReplaceAll(m.kind, "_", " "), m.amount.StringFixed(2)))
		}
		line := strings.Join(parts, ", ")
		if reference != "" {
			line += " (" + reference + ")"
		}
		return line, entries, nil
	})
}

// Close counts the till and closes the drawer for good.
func (l *Ledger) Close(ctx context.Context, drawerID int64, closingBalance decimal.Decimal, notes string) (*domain.Drawer, error) {
	if closingBalance.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var out *domain.Drawer
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := l.mutate(ctx, tx, drawerID, domain.DrawerTxClose, func(d *domain.Drawer) (string, []domain.DrawerTransaction, error) {
			expected := d.ExpectedBalance()
			diff := closingBalance.Sub(expected)
			closedAt := l.now()

			d.ClosingBalance = closingBalance
			d.Difference = diff
			d.Status = domain.DrawerStatusClosed
			d.ClosedAt = &closedAt

			line := fmt.Sprintf("Closed: counted %s, expected %s, %s", closingBalance.StringFixed(2), expected.StringFixed(2), overShort(diff))
			if notes = strings.TrimSpace(notes); notes != "" {
				line += ": " + notes
			}
			return line, []domain.DrawerTransaction{{Type: domain.DrawerTxClose, Amount: closingBalance, Notes: notes}}, nil
		})
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("drawer closed",
		slog.Int64("drawer_id", drawerID),
		slog.String("closing_balance", closingBalance.String()),
		slog.String("difference", out.Difference.String()),
	)
	return out, nil
}

type change func(d *domain.Drawer) (note string, entries []domain.DrawerTransaction, err error)

func (l *Ledger) mutate(ctx context.Context, tx store.Tx, drawerID int64, action string, fn change) (*domain.Drawer, error) {
	d, err := tx.GetDrawerForUpdate(ctx, drawerID)
	if err != nil {
		return nil, fmt.Errorf("drawer %d: %w", drawerID, err)
	}
	if !d.IsOpen() {
		return nil, ErrDrawerNotOpen
	}

	now := l.now()
	recompute(d)
	before := d.CurrentBalance
	rollDaily(d, now)

	note, entries, err := fn(d)
	if err != nil {
		return nil, err
	}
	recompute(d)
	appendNote(d, now, note)

	if err := tx.UpdateDrawer(ctx, *d); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		entry.DrawerID = d.ID
		entry.BalanceAfter = d.CurrentBalance
		if entry.Type == domain.DrawerTxClose {
			entry.BalanceAfter = d.ClosingBalance
		}
		entry.CashierID = d.CashierID
		entry.CreatedAt = now
		if err := tx.InsertDrawerTransaction(ctx, entry); err != nil {
			return nil, err
		}
	}
	if err := tx.InsertDrawerHistory(ctx, domain.DrawerHistory{
		DrawerID:      d.ID,
		Action:        action,
		Description:   note,
		BalanceBefore: before,
		BalanceAfter:  d.CurrentBalance,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

func add(d *domain.Drawer, kind string, amount decimal.Decimal) {
	switch kind {
	case domain.DrawerTxCashIn:
		d.CashIn = d.CashIn.Add(amount)
	case domain.DrawerTxCashOut:
		d.CashOut = d.CashOut.Add(amount)
	case domain.DrawerTxSale:
		d.TotalSales = d.TotalSales.Add(amount)
		d.DailySales = d.DailySales.Add(amount)
	case domain.DrawerTxExpense:
		d.TotalExpenses = d.TotalExpenses.Add(amount)
		d.DailyExpenses = d.DailyExpenses.Add(amount)
	case domain.DrawerTxSupplierPayment:
		d.TotalSupplierPayments = d.TotalSupplierPayments.Add(amount)
		d.DailySupplierPayments = d.DailySupplierPayments.Add(amount)
	}
}

func isOutflow(kind string) bool {
	return kind == domain.DrawerTxCashOut || kind == domain.DrawerTxExpense || kind == domain.DrawerTxSupplierPayment
}

// recompute derives the net figures from their components, never
// incrementally.
func recompute(d *domain.Drawer) {
	outflows := d.CashOut.Add(d.TotalExpenses).Add(d.TotalSupplierPayments)
	d.NetCashFlow = d.CashIn.Add(d.TotalSales).Sub(outflows)
	d.CurrentBalance = d.OpeningBalance.Add(d.NetCashFlow)
	d.NetSales = d.TotalSales.Sub(d.TotalExpenses).Sub(d.TotalSupplierPayments)
}

func rollDaily(d *domain.Drawer, now time.Time) {
	today := startOfDay(now)
	if startOfDay(d.DailyDate).Equal(today) {
		return
	}
	d.DailySales = decimal.Zero
	d.DailyExpenses = decimal.Zero
	d.DailySupplierPayments = decimal.Zero
	d.DailyDate = today
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func appendNote(d *domain.Drawer, at time.Time, line string) {
	if line == "" {
		return
	}
	entry := fmt.Sprintf("[%s] %s", at.Format("2006-01-02 15:04:05"), line)
	if d.Notes == "" {
		d.Notes = entry
		return
	}
	d.Notes += "\n" + entry
}

func overShort(diff decimal.Decimal) string {
	switch {
	case diff.IsPositive():
		return "over " + diff.StringFixed(2)
	case diff.IsNegative():
		return "short " + diff.Neg().StringFixed(2)
	default:
		return "balanced"
	}
}
