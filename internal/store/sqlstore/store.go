package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

var _ store.Repository = (*Store)(nil)

// Store implements store.Repository over database/sql. Money and quantities
// travel as decimal strings and all arithmetic on them happens in Go.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() string {
	return s.dialect.Name
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if strings.TrimSpace(s.dialect.Schema) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return fmt.Errorf("%s migrate: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.Isolation})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &txStore{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT `+productColumns+` FROM products WHERE id = $1`), id)
	return scanProduct(row)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.ItemsPerBox < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, s.dialect.bind(`
		INSERT INTO products (
			name, barcode, sale_price, wholesale_price, box_price, purchase_price,
			box_purchase_price, current_stock, box_stock, items_per_box, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`), product.Name, product.Barcode, product.SalePrice, product.WholesalePrice, product.BoxPrice,
		product.PurchasePrice, product.BoxPurchasePrice, product.CurrentStock, product.BoxStock,
		product.ItemsPerBox, product.UpdatedAt).Scan(&product.ID)
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT `+customerColumns+` FROM customers WHERE id = $1`), id)
	return scanCustomer(row)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.UpdatedAt.IsZero() {
		customer.UpdatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, s.dialect.bind(`
		INSERT INTO customers (name, phone, balance, updated_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`), customer.Name, customer.Phone, customer.Balance, customer.UpdatedAt).Scan(&customer.ID)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetDrawer(ctx context.Context, id int64) (*domain.Drawer, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT `+drawerColumns+` FROM drawers WHERE id = $1`), id)
	return scanDrawer(row)
}

func (s *Store) GetOpenDrawer(ctx context.Context, cashierID int64) (*domain.Drawer, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.bind(`
		SELECT `+drawerColumns+`
		FROM drawers
		WHERE cashier_id = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`), cashierID)
	return scanDrawer(row)
}

func (s *Store) ListDrawerTransactions(ctx context.Context, drawerID int64, limit int) ([]domain.DrawerTransaction, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(`
		SELECT id, drawer_id, type, amount, balance_after, reference, notes, cashier_id, created_at
		FROM drawer_transactions
		WHERE drawer_id = $1
		ORDER BY id DESC
		LIMIT $2
	`), drawerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DrawerTransaction, 0, 32)
	for rows.Next() {
		var entry domain.DrawerTransaction
		if err := rows.Scan(&entry.ID, &entry.DrawerID, &entry.Type, &entry.Amount, &entry.BalanceAfter,
			&entry.Reference, &entry.Notes, &entry.CashierID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListDrawerHistory(ctx context.Context, drawerID int64, limit int) ([]domain.DrawerHistory, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(`
		SELECT id, drawer_id, action, description, balance_before, balance_after, created_at
		FROM drawer_history
		WHERE drawer_id = $1
		ORDER BY id DESC
		LIMIT $2
	`), drawerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DrawerHistory, 0, 32)
	for rows.Next() {
		var entry domain.DrawerHistory
		if err := rows.Scan(&entry.ID, &entry.DrawerID, &entry.Action, &entry.Description,
			&entry.BalanceBefore, &entry.BalanceAfter, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`), id)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(`
		SELECT id, transaction_id, product_id, product_name, quantity, unit_price,
			purchase_price, discount, total, is_box, is_wholesale
		FROM transaction_details
		WHERE transaction_id = $1
		ORDER BY id
	`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tx.Details = make([]domain.TransactionDetail, 0, 8)
	for rows.Next() {
		var d domain.TransactionDetail
		if err := rows.Scan(&d.ID, &d.TransactionID, &d.ProductID, &d.ProductName, &d.Quantity, &d.UnitPrice,
			&d.PurchasePrice, &d.Discount, &d.Total, &d.IsBox, &d.IsWholesale); err != nil {
			return nil, err
		}
		tx.Details = append(tx.Details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) CreateFailedTransaction(ctx context.Context, failed domain.FailedTransaction) (*domain.FailedTransaction, error) {
	items, err := json.Marshal(failed.Items)
	if err != nil {
		return nil, fmt.Errorf("encode cart snapshot: %w", err)
	}
	now := time.Now().UTC()
	if failed.CreatedAt.IsZero() {
		failed.CreatedAt = now
	}
	failed.UpdatedAt = now

	err = s.db.QueryRowContext(ctx, s.dialect.bind(`
		INSERT INTO failed_transactions (
			original_transaction_id, items, cashier_id, cashier_name, cashier_role,
			customer_id, customer_name, payment_method, paid_amount, total_amount,
			error_message, failed_component, error_detail, state, retry_count,
			last_retry_at, completed_transaction_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id
	`), nullInt64(failed.OriginalTransactionID), string(items), failed.CashierID, failed.CashierName,
		failed.CashierRole, failed.CustomerID, failed.CustomerName, failed.PaymentMethod, failed.PaidAmount,
		failed.TotalAmount, failed.ErrorMessage, failed.FailedComponent, failed.ErrorDetail, failed.State,
		failed.RetryCount, nullTime(failed.LastRetryAt), nullInt64(failed.CompletedTransactionID),
		failed.CreatedAt, failed.UpdatedAt).Scan(&failed.ID)
	if err != nil {
		return nil, err
	}
	return &failed, nil
}

func (s *Store) GetFailedTransaction(ctx context.Context, id int64) (*domain.FailedTransaction, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT `+failedColumns+` FROM failed_transactions WHERE id = $1`), id)
	return scanFailed(row)
}

func (s *Store) UpdateFailedTransaction(ctx context.Context, failed domain.FailedTransaction) error {
	items, err := json.Marshal(failed.Items)
	if err != nil {
		return fmt.Errorf("encode cart snapshot: %w", err)
	}
	failed.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.dialect.bind(`
		UPDATE failed_transactions
		SET items = $2, error_message = $3, failed_component = $4, error_detail = $5,
			state = $6, retry_count = $7, last_retry_at = $8, completed_transaction_id = $9,
			updated_at = $10
		WHERE id = $1
	`), failed.ID, string(items), failed.ErrorMessage, failed.FailedComponent, failed.ErrorDetail,
		failed.State, failed.RetryCount, nullTime(failed.LastRetryAt), nullInt64(failed.CompletedTransactionID),
		failed.UpdatedAt)
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

func (s *Store) ListFailedTransactions(ctx context.Context, state string, limit int) ([]domain.FailedTransaction, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(`
		SELECT `+failedColumns+`
		FROM failed_transactions
		WHERE ($1 = '' OR state = $1)
		ORDER BY id DESC
		LIMIT $2
	`), state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.FailedTransaction, 0, 16)
	for rows.Next() {
		f, err := scanFailed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.dialect.bind(`
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`), user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, s.dialect.bind(`
		UPDATE app_users
		SET password = $2, updated_at = $3
		WHERE username = $1
	`), username, password, time.Now().UTC())
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

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
