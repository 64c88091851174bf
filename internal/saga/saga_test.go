package saga

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/register/internal/customer"
	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/drawer"
	"kasirinaja/register/internal/failure"
	"kasirinaja/register/internal/inventory"
	"kasirinaja/register/internal/store"
	"kasirinaja/register/internal/store/memory"
)

var errDiskFull = errors.New("disk full")

// faultyStore injects failures around a memory store.
type faultyStore struct {
	*memory.Store
	commitErr     error
	failCustomer  bool
	panicOnStock  bool
	failureStDown bool
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return f.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := fn(ctx, faultyTx{Tx: tx, f: f}); err != nil {
			return err
		}
		return f.commitErr
	})
}

func (f *faultyStore) CreateFailedTransaction(ctx context.Context, failed domain.FailedTransaction) (*domain.FailedTransaction, error) {
	if f.failureStDown {
		return nil, errDiskFull
	}
	return f.Store.CreateFailedTransaction(ctx, failed)
}

type faultyTx struct {
	store.Tx
	f *faultyStore
}

func (t faultyTx) UpdateCustomerBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	if t.f.failCustomer {
		return errDiskFull
	}
	return t.Tx.UpdateCustomerBalance(ctx, id, balance, at)
}

func (t faultyTx) UpdateProductStock(ctx context.Context, id int64, current decimal.Decimal, boxes decimal.Decimal, at time.Time) error {
	if t.f.panicOnStock {
		panic("stock table vanished")
	}
	return t.Tx.UpdateProductStock(ctx, id, current, boxes, at)
}

type fixture struct {
	store    *faultyStore
	saga     *Saga
	drawers  *drawer.Ledger
	failures *failure.Ledger
	cashier  domain.Cashier
	product  *domain.Product
	boxed    *domain.Product
	customer *domain.Customer
	drawer   *domain.Drawer
	backups  string
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fs := &faultyStore{Store: memory.New()}

	product, err := fs.CreateProduct(ctx, domain.Product{Name: "Produk A", SalePrice: d("10.00"), PurchasePrice: d("7"), CurrentStock: d("10"), ItemsPerBox: 1})
	require.NoError(t, err)
	boxed, err := fs.CreateProduct(ctx, domain.Product{Name: "Air Mineral", BoxPrice: d("80000"), CurrentStock: d("48"), BoxStock: d("2"), ItemsPerBox: 24})
	require.NoError(t, err)
	cust, err := fs.CreateCustomer(ctx, domain.Customer{Name: "Pelanggan 7", Balance: decimal.Zero})
	require.NoError(t, err)

	cashier := domain.Cashier{ID: 3, Name: "dewi", Role: domain.RoleCashier}
	drawers := drawer.New(fs, logger)
	opened, err := drawers.Open(ctx, cashier, d("100"))
	require.NoError(t, err)

	backups := t.TempDir()
	failures := failure.New(fs, fs, backups, logger)
	s := New(Deps{
		Store:     fs,
		Inventory: inventory.New(logger),
		Drawers:   drawers,
		Customers: customer.New(fs, logger),
		Failures:  failures,
		Logger:    logger,
	})
	return &fixture{
		store: fs, saga: s, drawers: drawers, failures: failures, cashier: cashier,
		product: product, boxed: boxed, customer: cust, drawer: opened, backups: backups,
	}
}

func (fx *fixture) sale(qty string, paid string, customerID int64) Request {
	return Request{
		Lines:      []domain.CartLine{{ProductID: fx.product.ID, ProductName: "Produk A", Quantity: d(qty), UnitPrice: d("10.00")}},
		Cashier:    fx.cashier,
		CustomerID: customerID,
		PaidAmount: d(paid),
	}
}

func (fx *fixture) snapshot(t *testing.T) (stock decimal.Decimal, balance decimal.Decimal, debt decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	p, err := fx.store.GetProduct(ctx, fx.product.ID)
	require.NoError(t, err)
	dr, err := fx.store.GetDrawer(ctx, fx.drawer.ID)
	require.NoError(t, err)
	c, err := fx.store.GetCustomer(ctx, fx.customer.ID)
	require.NoError(t, err)
	return p.CurrentStock, dr.CurrentBalance, c.Balance
}

func requireFailure(t *testing.T, err error) *Failure {
	t.Helper()
	require.Error(t, err)
	var f *Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %T: %v", err, err)
	return f
}

func TestPartialPaymentPostsCashToDrawerAndRestToCustomer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tx, err := fx.saga.Finalize(ctx, fx.sale("2", "15.00", fx.customer.ID))
	require.NoError(t, err)

	assert.Equal(t, "20", tx.TotalAmount.String())
	assert.Equal(t, "15", tx.PaidAmount.String())
	assert.True(t, tx.ChangeAmount.IsZero())
	require.NotNil(t, tx.CustomerID)
	assert.Equal(t, fx.customer.ID, *tx.CustomerID)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, domain.PaymentMethodCash, tx.PaymentMethod)

	stock, balance, debt := fx.snapshot(t)
	assert.Equal(t, "8", stock.String())
	assert.Equal(t, "115", balance.String())
	assert.Equal(t, "5", debt.String())

	stored, err := fx.store.FindTransactionByID(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, stored.Details, 1)
	assert.Equal(t, "7", stored.Details[0].PurchasePrice.String())
}

func TestInsufficientStockFailsValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateProductStock(ctx, fx.product.ID, d("1"), decimal.Zero, time.Now())
	}))

	_, err := fx.saga.Finalize(ctx, fx.sale("2", "20", domain.WalkInCustomerID))
	f := requireFailure(t, err)
	assert.Equal(t, StateValidatingData, f.State)
	assert.Equal(t, ComponentInventory, f.Component)
	assert.Contains(t, f.Message, "Insufficient stock")
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = fx.store.FindTransactionByID(ctx, 1)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NotZero(t, f.FailedID)
	recorded, err := fx.failures.Get(ctx, f.FailedID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailedStateFailed, recorded.State)
	assert.Equal(t, "Inventory", recorded.FailedComponent)
	assert.Contains(t, recorded.ErrorMessage, "Insufficient stock")
	assert.Contains(t, recorded.ErrorDetail, "validating_data")
}

func TestStockIsCheckedAcrossLinesOfTheSameProduct(t *testing.T) {
	fx := newFixture(t)
	req := fx.sale("6", "120", domain.WalkInCustomerID)
	req.Lines = append(req.Lines, req.Lines[0])

	_, err := fx.saga.Finalize(context.Background(), req)
	f := requireFailure(t, err)
	assert.Equal(t, ComponentInventory, f.Component)
}

func TestFailureAfterRecordingRollsEverythingBack(t *testing.T) {
	fx := newFixture(t)
	fx.store.failCustomer = true
	ctx := context.Background()

	_, err := fx.saga.Finalize(ctx, fx.sale("2", "15.00", fx.customer.ID))
	f := requireFailure(t, err)
	assert.Equal(t, StateUpdatedCustomerBalance, f.State)
	assert.Equal(t, ComponentCustomer, f.Component)
	assert.ErrorIs(t, err, errDiskFull)

	_, err = fx.store.FindTransactionByID(ctx, 1)
	require.ErrorIs(t, err, store.ErrNotFound)

	stock, balance, debt := fx.snapshot(t)
	assert.Equal(t, "10", stock.String())
	assert.Equal(t, "100", balance.String())
	assert.True(t, debt.IsZero())

	entries, err := fx.store.ListDrawerTransactions(ctx, fx.drawer.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCommitFailureIsRecordedWithExactCart(t *testing.T) {
	fx := newFixture(t)
	fx.store.commitErr = errors.New("connection reset")
	ctx := context.Background()
	req := fx.sale("2", "20", domain.WalkInCustomerID)
	req.Lines = append(req.Lines, domain.CartLine{ProductID: fx.boxed.ID, ProductName: "Air Mineral", Quantity: d("1"), UnitPrice: d("80000.50"), IsBox: true})
	req.PaidAmount = d("80020.50")

	_, err := fx.saga.Finalize(ctx, req)
	f := requireFailure(t, err)
	assert.Equal(t, ComponentDatabase, f.Component)
	assert.Equal(t, StateCompleted, f.State)

	_, err = fx.store.FindTransactionByID(ctx, 1)
	require.ErrorIs(t, err, store.ErrNotFound)

	recorded, err := fx.failures.Get(ctx, f.FailedID)
	require.NoError(t, err)
	lines := recorded.CartLines()
	require.Len(t, lines, len(req.Lines))
	for i := range req.Lines {
		assert.Equal(t, req.Lines[i].ProductID, lines[i].ProductID)
		assert.True(t, req.Lines[i].Quantity.Equal(lines[i].Quantity))
		assert.True(t, req.Lines[i].UnitPrice.Equal(lines[i].UnitPrice))
		assert.Equal(t, req.Lines[i].IsBox, lines[i].IsBox)
	}
	assert.True(t, recorded.PaidAmount.Equal(req.PaidAmount))
}

func TestCommitFailureFallsBackToBackupFile(t *testing.T) {
	fx := newFixture(t)
	fx.store.commitErr = errors.New("connection reset")
	fx.store.failureStDown = true

	_, err := fx.saga.Finalize(context.Background(), fx.sale("1", "10", domain.WalkInCustomerID))
	f := requireFailure(t, err)
	assert.Zero(t, f.FailedID)
	require.FileExists(t, f.BackupPath)

	entries, err := os.ReadDir(fx.backups)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPureDebtSaleLeavesDrawerUntouched(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tx, err := fx.saga.Finalize(ctx, fx.sale("2", "0", fx.customer.ID))
	require.NoError(t, err)
	assert.True(t, tx.PaidAmount.IsZero())

	_, balance, debt := fx.snapshot(t)
	assert.Equal(t, "100", balance.String())
	assert.Equal(t, "20", debt.String())

	entries, err := fx.store.ListDrawerTransactions(ctx, fx.drawer.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWalkInMustPayInFull(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.saga.Finalize(context.Background(), fx.sale("2", "15", domain.WalkInCustomerID))
	f := requireFailure(t, err)
	assert.Equal(t, ComponentPayment, f.Component)
	assert.Equal(t, StateValidatingData, f.State)
}

func TestValidationOrderFirstFailureWins(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// bad stock and negative payment: stock is checked first
	req := fx.sale("50", "-1", domain.WalkInCustomerID)
	_, err := fx.saga.Finalize(ctx, req)
	assert.Equal(t, ComponentInventory, requireFailure(t, err).Component)

	req = fx.sale("1", "-1", 999)
	_, err = fx.saga.Finalize(ctx, req)
	assert.Equal(t, ComponentPayment, requireFailure(t, err).Component)

	req = fx.sale("1", "1", 999)
	_, err = fx.saga.Finalize(ctx, req)
	assert.Equal(t, ComponentCustomer, requireFailure(t, err).Component)

	req = fx.sale("0", "10", domain.WalkInCustomerID)
	_, err = fx.saga.Finalize(ctx, req)
	assert.Equal(t, ComponentValidation, requireFailure(t, err).Component)
}

func TestNoOpenDrawerFailsWithDrawerComponent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.drawers.Close(ctx, fx.drawer.ID, d("100"), "")
	require.NoError(t, err)

	_, err = fx.saga.Finalize(ctx, fx.sale("1", "10", domain.WalkInCustomerID))
	f := requireFailure(t, err)
	assert.Equal(t, ComponentDrawer, f.Component)
	assert.Equal(t, StateValidatingData, f.State)
}

func TestPanicInsideStateBecomesUnknownFailure(t *testing.T) {
	fx := newFixture(t)
	fx.store.panicOnStock = true

	_, err := fx.saga.Finalize(context.Background(), fx.sale("1", "10", domain.WalkInCustomerID))
	f := requireFailure(t, err)
	assert.Equal(t, ComponentUnknown, f.Component)
	assert.Equal(t, StateUpdatingInventory, f.State)
	assert.NotZero(t, f.FailedID)

	fx.store.panicOnStock = false
	stock, _, _ := fx.snapshot(t)
	assert.Equal(t, "10", stock.String())
}

func TestOverpaymentRecordsChangeAndAppliedCash(t *testing.T) {
	fx := newFixture(t)
	tx, err := fx.saga.Finalize(context.Background(), fx.sale("2", "50", domain.WalkInCustomerID))
	require.NoError(t, err)
	assert.Equal(t, "20", tx.PaidAmount.String())
	assert.Equal(t, "30", tx.ChangeAmount.String())
	assert.Nil(t, tx.CustomerID)

	_, balance, _ := fx.snapshot(t)
	assert.Equal(t, "120", balance.String())
}

func TestCardPaymentStillPostsPaidAmountToDrawer(t *testing.T) {
	fx := newFixture(t)
	req := fx.sale("2", "15.00", fx.customer.ID)
	req.PaymentMethod = domain.PaymentMethodCard

	tx, err := fx.saga.Finalize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCard, tx.PaymentMethod)

	stock, balance, debt := fx.snapshot(t)
	assert.Equal(t, "8", stock.String())
	assert.Equal(t, "115", balance.String())
	assert.Equal(t, "5", debt.String())
}

func TestAnyPaymentMethodIsAccepted(t *testing.T) {
	fx := newFixture(t)
	req := fx.sale("1", "10", domain.WalkInCustomerID)
	req.PaymentMethod = "QRIS"

	tx, err := fx.saga.Finalize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "QRIS", tx.PaymentMethod)

	_, balance, _ := fx.snapshot(t)
	assert.Equal(t, "110", balance.String())
}

func TestBoxLineDebitsBothCounters(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	req := Request{
		Lines:      []domain.CartLine{{ProductID: fx.boxed.ID, Quantity: d("1"), UnitPrice: d("80000"), IsBox: true}},
		Cashier:    fx.cashier,
		PaidAmount: d("80000"),
	}

	tx, err := fx.saga.Finalize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "80000", tx.TotalAmount.String())
	require.Len(t, tx.Details, 1)
	assert.Equal(t, "1", tx.Details[0].Quantity.String())

	p, err := fx.store.GetProduct(ctx, fx.boxed.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", p.BoxStock.String())
	assert.Equal(t, "24", p.CurrentStock.String())
}

func TestFractionalBoxLineIsRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	req := Request{
		Lines:      []domain.CartLine{{ProductID: fx.boxed.ID, Quantity: d("1.9"), UnitPrice: d("80000"), IsBox: true}},
		Cashier:    fx.cashier,
		PaidAmount: d("152000"),
	}

	_, err := fx.saga.Finalize(ctx, req)
	f := requireFailure(t, err)
	assert.Equal(t, ComponentValidation, f.Component)
	assert.Equal(t, StateValidatingData, f.State)
	assert.Contains(t, f.Message, "fraction of a box")

	p, err := fx.store.GetProduct(ctx, fx.boxed.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", p.BoxStock.String())
	assert.Equal(t, "48", p.CurrentStock.String())
	_, balance, _ := fx.snapshot(t)
	assert.Equal(t, "100", balance.String())
}

func TestRetryReplaysRecordedFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateProductStock(ctx, fx.product.ID, d("1"), decimal.Zero, time.Now())
	}))

	_, err := fx.saga.Finalize(ctx, fx.sale("2", "15.00", fx.customer.ID))
	f := requireFailure(t, err)

	// replay still short of stock: the same entry goes back to failed
	_, err = fx.saga.Retry(ctx, f.FailedID)
	require.Error(t, err)
	all, err := fx.failures.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].RetryCount)
	assert.Equal(t, "Inventory", all[0].FailedComponent)

	require.NoError(t, fx.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateProductStock(ctx, fx.product.ID, d("5"), decimal.Zero, time.Now())
	}))
	tx, err := fx.saga.Retry(ctx, f.FailedID)
	require.NoError(t, err)
	assert.Equal(t, "20", tx.TotalAmount.String())
	assert.Equal(t, "15", tx.PaidAmount.String())

	done, err := fx.failures.Get(ctx, f.FailedID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailedStateCompleted, done.State)
	require.NotNil(t, done.CompletedTransactionID)
	assert.Equal(t, tx.ID, *done.CompletedTransactionID)

	stock, balance, debt := fx.snapshot(t)
	assert.Equal(t, "3", stock.String())
	assert.Equal(t, "115", balance.String())
	assert.Equal(t, "5", debt.String())
}

func TestContextDerivedAmounts(t *testing.T) {
	c := newContext("attempt-1", Request{
		Lines:      []domain.CartLine{{Quantity: d("2"), UnitPrice: d("10.00")}},
		PaidAmount: d("15"),
		CustomerID: 7,
	}, time.Now())
	assert.Equal(t, "20", c.TotalAmount.String())
	assert.Equal(t, "5", c.DebtAmount.String())
	assert.True(t, c.ChangeAmount.IsZero())
	assert.Equal(t, "15", c.AppliedCash.String())
	assert.True(t, c.AddToCustomerDebt)
	assert.Equal(t, domain.PaymentMethodCash, c.Request.PaymentMethod)
	assert.Equal(t, StateCreated, c.State)
	require.Len(t, c.TransactionLog, 1)

	walkIn := newContext("attempt-2", Request{
		Lines:      []domain.CartLine{{Quantity: d("2"), UnitPrice: d("10.00")}},
		PaidAmount: d("15"),
	}, time.Now())
	assert.False(t, walkIn.AddToCustomerDebt)
}

func TestStatesDoNotShareAuditLog(t *testing.T) {
	c := newContext("attempt-1", Request{}, time.Now())
	a := c.enter(StateValidatingData, time.Now())
	b := c.enter(StateFailed, time.Now())
	assert.Len(t, c.TransactionLog, 1)
	assert.Contains(t, a.TransactionLog[1], "validating_data")
	assert.Contains(t, b.TransactionLog[1], "failed")
}
