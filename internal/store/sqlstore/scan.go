package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, barcode, sale_price, wholesale_price, box_price, purchase_price,
	box_purchase_price, current_stock, box_stock, items_per_box, updated_at`

const customerColumns = `id, name, phone, balance, updated_at`

const drawerColumns = `id, cashier_id, cashier_name, opening_balance, current_balance, cash_in, cash_out,
	total_sales, total_expenses, total_supplier_payments, daily_sales, daily_expenses,
	daily_supplier_payments, daily_date, net_cash_flow, net_sales, closing_balance, difference,
	status, opened_at, closed_at, notes`

const transactionColumns = `id, customer_id, customer_name, drawer_id, total_amount, paid_amount, change_amount,
	created_at, type, status, payment_method, cashier_id, cashier_name, cashier_role`

const failedColumns = `id, original_transaction_id, items, cashier_id, cashier_name, cashier_role,
	customer_id, customer_name, payment_method, paid_amount, total_amount, error_message,
	failed_component, error_detail, state, retry_count, last_retry_at, completed_transaction_id,
	created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Barcode, &p.SalePrice, &p.WholesalePrice, &p.BoxPrice,
		&p.PurchasePrice, &p.BoxPurchasePrice, &p.CurrentStock, &p.BoxStock, &p.ItemsPerBox, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Balance, &c.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanDrawer(row rowScanner) (*domain.Drawer, error) {
	var d domain.Drawer
	var closedAt sql.NullTime
	err := row.Scan(&d.ID, &d.CashierID, &d.CashierName, &d.OpeningBalance, &d.CurrentBalance, &d.CashIn, &d.CashOut,
		&d.TotalSales, &d.TotalExpenses, &d.TotalSupplierPayments, &d.DailySales, &d.DailyExpenses,
		&d.DailySupplierPayments, &d.DailyDate, &d.NetCashFlow, &d.NetSales, &d.ClosingBalance, &d.Difference,
		&d.Status, &d.OpenedAt, &closedAt, &d.Notes)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	d.OpenedAt = d.OpenedAt.UTC()
	d.DailyDate = d.DailyDate.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		d.ClosedAt = &at
	}
	return &d, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var customerID sql.NullInt64
	err := row.Scan(&tx.ID, &customerID, &tx.CustomerName, &tx.DrawerID, &tx.TotalAmount, &tx.PaidAmount,
		&tx.ChangeAmount, &tx.Timestamp, &tx.Type, &tx.Status, &tx.PaymentMethod, &tx.CashierID,
		&tx.CashierName, &tx.CashierRole)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.Timestamp = tx.Timestamp.UTC()
	if customerID.Valid {
		id := customerID.Int64
		tx.CustomerID = &id
	}
	return &tx, nil
}

func scanFailed(row rowScanner) (*domain.FailedTransaction, error) {
	var f domain.FailedTransaction
	var originalID, completedID sql.NullInt64
	var lastRetryAt sql.NullTime
	var items []byte
	err := row.Scan(&f.ID, &originalID, &items, &f.CashierID, &f.CashierName, &f.CashierRole,
		&f.CustomerID, &f.CustomerName, &f.PaymentMethod, &f.PaidAmount, &f.TotalAmount, &f.ErrorMessage,
		&f.FailedComponent, &f.ErrorDetail, &f.State, &f.RetryCount, &lastRetryAt, &completedID,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &f.Items); err != nil {
			return nil, fmt.Errorf("decode cart snapshot of failed transaction %d: %w", f.ID, err)
		}
	}
	if originalID.Valid {
		id := originalID.Int64
		f.OriginalTransactionID = &id
	}
	if completedID.Valid {
		id := completedID.Int64
		f.CompletedTransactionID = &id
	}
	if lastRetryAt.Valid {
		at := lastRetryAt.Time.UTC()
		f.LastRetryAt = &at
	}
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return &f, nil
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
