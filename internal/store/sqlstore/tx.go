package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

// txStore is the store.Tx handed to WithTx callbacks.
type txStore struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *txStore) locked(query string) string {
	return t.dialect.bind(query + t.dialect.ForUpdate)
}

func (t *txStore) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	row := t.tx.QueryRowContext(ctx, t.locked(`SELECT `+productColumns+` FROM products WHERE id = $1`), id)
	return scanProduct(row)
}

func (t *txStore) UpdateProductStock(ctx context.Context, id int64, currentStock decimal.Decimal, boxStock decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.dialect.bind(`
		UPDATE products
		SET current_stock = $2, box_stock = $3, updated_at = $4
		WHERE id = $1
	`), id, currentStock, boxStock, at.UTC())
	return expectOne(res, err)
}

func (t *txStore) GetCustomerForUpdate(ctx context.Context, id int64) (*domain.Customer, error) {
	row := t.tx.QueryRowContext(ctx, t.locked(`SELECT `+customerColumns+` FROM customers WHERE id = $1`), id)
	return scanCustomer(row)
}

func (t *txStore) UpdateCustomerBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.dialect.bind(`
		UPDATE customers SET balance = $2, updated_at = $3 WHERE id = $1
	`), id, balance, at.UTC())
	return expectOne(res, err)
}

func (t *txStore) GetOpenDrawerForUpdate(ctx context.Context, cashierID int64) (*domain.Drawer, error) {
	row := t.tx.QueryRowContext(ctx, t.locked(`
		SELECT `+drawerColumns+`
		FROM drawers
		WHERE cashier_id = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1`), cashierID)
	return scanDrawer(row)
}

func (t *txStore) GetDrawerForUpdate(ctx context.Context, id int64) (*domain.Drawer, error) {
	row := t.tx.QueryRowContext(ctx, t.locked(`SELECT `+drawerColumns+` FROM drawers WHERE id = $1`), id)
	return scanDrawer(row)
}

func (t *txStore) InsertDrawer(ctx context.Context, d domain.Drawer) (*domain.Drawer, error) {
	err := t.tx.QueryRowContext(ctx, t.dialect.bind(`
		INSERT INTO drawers (
			cashier_id, cashier_name, opening_balance, current_balance, cash_in, cash_out,
			total_sales, total_expenses, total_supplier_payments, daily_sales, daily_expenses,
			daily_supplier_payments, daily_date, net_cash_flow, net_sales, closing_balance, difference,
			status, opened_at, closed_at, notes
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id
	`), d.CashierID, d.CashierName, d.OpeningBalance, d.CurrentBalance, d.CashIn, d.CashOut,
		d.TotalSales, d.TotalExpenses, d.TotalSupplierPayments, d.DailySales, d.DailyExpenses,
		d.DailySupplierPayments, d.DailyDate.UTC(), d.NetCashFlow, d.NetSales, d.ClosingBalance, d.Difference,
		d.Status, d.OpenedAt.UTC(), nullTime(d.ClosedAt), d.Notes).Scan(&d.ID)
	if err != nil {
		if t.dialect.uniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &d, nil
}

func (t *txStore) UpdateDrawer(ctx context.Context, d domain.Drawer) error {
	res, err := t.tx.ExecContext(ctx, t.dialect.bind(`
		UPDATE drawers
		SET current_balance = $2, cash_in = $3, cash_out = $4, total_sales = $5, total_expenses = $6,
			total_supplier_payments = $7, daily_sales = $8, daily_expenses = $9,
			daily_supplier_payments = $10, daily_date = $11, net_cash_flow = $12, net_sales = $13,
			closing_balance = $14, difference = $15, status = $16, closed_at = $17, notes = $18
		WHERE id = $1
	`), d.ID, d.CurrentBalance, d.CashIn, d.CashOut, d.TotalSales, d.TotalExpenses,
		d.TotalSupplierPayments, d.DailySales, d.DailyExpenses,
		d.DailySupplierPayments, d.DailyDate.UTC(), d.NetCashFlow, d.NetSales,
		d.ClosingBalance, d.Difference, d.Status, nullTime(d.ClosedAt), d.Notes)
	if err != nil && t.dialect.uniqueViolation(err) {
		return store.ErrConflict
	}
	return expectOne(res, err)
}

func (t *txStore) InsertDrawerTransaction(ctx context.Context, e domain.DrawerTransaction) error {
	_, err := t.tx.ExecContext(ctx, t.dialect.bind(`
		INSERT INTO drawer_transactions (drawer_id, type, amount, balance_after, reference, notes, cashier_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`), e.DrawerID, e.Type, e.Amount, e.BalanceAfter, e.Reference, e.Notes, e.CashierID, e.CreatedAt.UTC())
	return err
}

func (t *txStore) InsertDrawerHistory(ctx context.Context, e domain.DrawerHistory) error {
	_, err := t.tx.ExecContext(ctx, t.dialect.bind(`
		INSERT INTO drawer_history (drawer_id, action, description, balance_before, balance_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`), e.DrawerID, e.Action, e.Description, e.BalanceBefore, e.BalanceAfter, e.CreatedAt.UTC())
	return err
}

func (t *txStore) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	err := t.tx.QueryRowContext(ctx, t.dialect.bind(`
		INSERT INTO transactions (
			customer_id, customer_name, drawer_id, total_amount, paid_amount, change_amount,
			created_at, type, status, payment_method, cashier_id, cashier_name, cashier_role
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`), nullInt64(tx.CustomerID), tx.CustomerName, tx.DrawerID, tx.TotalAmount, tx.PaidAmount, tx.ChangeAmount,
		tx.Timestamp.UTC(), tx.Type, tx.Status, tx.PaymentMethod, tx.CashierID, tx.CashierName,
		tx.CashierRole).Scan(&tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Details = nil
	return &tx, nil
}

func (t *txStore) InsertTransactionDetail(ctx context.Context, d domain.TransactionDetail) (*domain.TransactionDetail, error) {
	err := t.tx.QueryRowContext(ctx, t.dialect.bind(`
		INSERT INTO transaction_details (
			transaction_id, product_id, product_name, quantity, unit_price,
			purchase_price, discount, total, is_box, is_wholesale
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`), d.TransactionID, d.ProductID, d.ProductName, d.Quantity, d.UnitPrice,
		d.PurchasePrice, d.Discount, d.Total, d.IsBox, d.IsWholesale).Scan(&d.ID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
