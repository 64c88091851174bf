package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
)

// Tx is the write surface of one database transaction. Reads through Tx see
// the transaction's own uncommitted writes and lock the row where the backend
// supports it.
type Tx interface {
	GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error)
	UpdateProductStock(ctx context.Context, id int64, currentStock decimal.Decimal, boxStock decimal.Decimal, at time.Time) error

	GetCustomerForUpdate(ctx context.Context, id int64) (*domain.Customer, error)
	UpdateCustomerBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error

	GetOpenDrawerForUpdate(ctx context.Context, cashierID int64) (*domain.Drawer, error)
	GetDrawerForUpdate(ctx context.Context, id int64) (*domain.Drawer, error)
	InsertDrawer(ctx context.Context, drawer domain.Drawer) (*domain.Drawer, error)
	UpdateDrawer(ctx context.Context, drawer domain.Drawer) error
	InsertDrawerTransaction(ctx context.Context, entry domain.DrawerTransaction) error
	InsertDrawerHistory(ctx context.Context, entry domain.DrawerHistory) error

	InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	InsertTransactionDetail(ctx context.Context, detail domain.TransactionDetail) (*domain.TransactionDetail, error)
}

// TxRunner runs fn inside one transaction. It commits only when fn returns
// nil; any error rolls back every write fn made.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type FailureStore interface {
	CreateFailedTransaction(ctx context.Context, failed domain.FailedTransaction) (*domain.FailedTransaction, error)
	GetFailedTransaction(ctx context.Context, id int64) (*domain.FailedTransaction, error)
	UpdateFailedTransaction(ctx context.Context, failed domain.FailedTransaction) error
	ListFailedTransactions(ctx context.Context, state string, limit int) ([]domain.FailedTransaction, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	TxRunner
	FailureStore
	UserStore

	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	GetDrawer(ctx context.Context, id int64) (*domain.Drawer, error)
	GetOpenDrawer(ctx context.Context, cashierID int64) (*domain.Drawer, error)
	ListDrawerTransactions(ctx context.Context, drawerID int64, limit int) ([]domain.DrawerTransaction, error)
	ListDrawerHistory(ctx context.Context, drawerID int64, limit int) ([]domain.DrawerHistory, error)

	FindTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)
}
