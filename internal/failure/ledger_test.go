package failure

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
	"kasirinaja/register/internal/store/memory"
)

var errDown = errors.New("database is down")

// flakyStore fails inserts while down is set.
type flakyStore struct {
	*memory.Store
	down bool
}

func (f *flakyStore) CreateFailedTransaction(ctx context.Context, failed domain.FailedTransaction) (*domain.FailedTransaction, error) {
	if f.down {
		return nil, errDown
	}
	return f.Store.CreateFailedTransaction(ctx, failed)
}

type componentErr struct{ component string }

func (e componentErr) Error() string            { return e.component + " failed" }
func (e componentErr) FailureComponent() string { return e.component }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEntry() Entry {
	return Entry{
		Lines: []domain.CartLine{
			{ProductID: 1, ProductName: "Mie", Quantity: decimal.RequireFromString("2"), UnitPrice: decimal.RequireFromString("10.00")},
			{ProductID: 2, ProductName: "Telur", Quantity: decimal.RequireFromString("1"), UnitPrice: decimal.RequireFromString("250000"), IsBox: true},
		},
		Cashier:       domain.Cashier{ID: 7, Name: "dewi", Role: domain.RoleCashier},
		PaymentMethod: domain.PaymentMethodCash,
		PaidAmount:    decimal.RequireFromString("300000"),
		TotalAmount:   decimal.RequireFromString("250020"),
		Component:     "Inventory",
		Err:           errors.New("Insufficient stock for Telur"),
	}
}

func openDrawerFor(t *testing.T, s *memory.Store, cashierID int64) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertDrawer(ctx, domain.Drawer{CashierID: cashierID, Status: domain.DrawerStatusOpen})
		return err
	}))
}

func TestRecordStoresFailedRow(t *testing.T) {
	s := memory.New()
	l := New(s, s, t.TempDir(), quietLogger())

	receipt, err := l.Record(context.Background(), sampleEntry())
	require.NoError(t, err)
	require.NotZero(t, receipt.ID)
	assert.Empty(t, receipt.BackupPath)

	got, err := l.Get(context.Background(), receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailedStateFailed, got.State)
	assert.Zero(t, got.RetryCount)
	assert.Equal(t, "Inventory", got.FailedComponent)
	assert.Contains(t, got.ErrorMessage, "Insufficient stock")
	assert.True(t, got.CanRetry())
}

func TestRecordFallsBackToBackupFile(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), down: true}
	dir := t.TempDir()
	l := New(fs, fs, dir, quietLogger())
	entry := sampleEntry()

	receipt, err := l.Record(context.Background(), entry)
	require.NoError(t, err)
	assert.Zero(t, receipt.ID)
	require.FileExists(t, receipt.BackupPath)
	assert.Regexp(t, `failed-[0-9a-f-]{36}\.json$`, receipt.BackupPath)

	restored, err := readBackup(receipt.BackupPath)
	require.NoError(t, err)
	lines := restored.CartLines()
	require.Len(t, lines, len(entry.Lines))
	for i := range entry.Lines {
		assert.Equal(t, entry.Lines[i].ProductID, lines[i].ProductID)
		assert.True(t, entry.Lines[i].Quantity.Equal(lines[i].Quantity))
		assert.True(t, entry.Lines[i].UnitPrice.Equal(lines[i].UnitPrice))
	}

	// no temp files left behind
	files, err := filepath.Glob(filepath.Join(dir, ".failed-*"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRecordReportsLossWhenBothWritesFail(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), down: true}
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	l := New(fs, fs, filepath.Join(blocker, "backups"), quietLogger())

	_, err := l.Record(context.Background(), sampleEntry())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
}

func TestImportLocalBackups(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), down: true}
	dir := t.TempDir()
	l := New(fs, fs, dir, quietLogger())
	ctx := context.Background()

	first, err := l.Record(ctx, sampleEntry())
	require.NoError(t, err)
	_, err = l.Record(ctx, sampleEntry())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	fs.down = false
	report, err := l.ImportLocalBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Rejected)
	assert.Len(t, report.IDs, 2)

	assert.NoFileExists(t, first.BackupPath)
	assert.FileExists(t, filepath.Join(dir, processedDir, filepath.Base(first.BackupPath)))
	assert.FileExists(t, filepath.Join(dir, rejectedDir, "garbage.json"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	listed, err := l.List(ctx, domain.FailedStateFailed, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Len(t, listed[0].Items, 2)

	again, err := l.ImportLocalBackups(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Imported)
}

func TestImportKeepsFilesWhenStoreStillDown(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), down: true}
	l := New(fs, fs, t.TempDir(), quietLogger())
	receipt, err := l.Record(context.Background(), sampleEntry())
	require.NoError(t, err)

	report, err := l.ImportLocalBackups(context.Background())
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, 1, report.Failed)
	assert.FileExists(t, receipt.BackupPath)
}

func TestRetrySuccessMarksCompleted(t *testing.T) {
	s := memory.New()
	l := New(s, s, t.TempDir(), quietLogger())
	ctx := context.Background()
	openDrawerFor(t, s, 7)

	receipt, err := l.Record(ctx, sampleEntry())
	require.NoError(t, err)

	var replayed domain.FailedTransaction
	tx, err := l.Retry(ctx, receipt.ID, func(ctx context.Context, failed domain.FailedTransaction) (*domain.Transaction, error) {
		replayed = failed
		return &domain.Transaction{ID: 42}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), tx.ID)
	assert.Equal(t, domain.FailedStateRetrying, replayed.State)
	assert.Equal(t, 1, replayed.RetryCount)

	got, err := l.Get(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailedStateCompleted, got.State)
	require.NotNil(t, got.CompletedTransactionID)
	assert.Equal(t, int64(42), *got.CompletedTransactionID)
	require.NotNil(t, got.LastRetryAt)

	_, err = l.Retry(ctx, receipt.ID, nil)
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetryFailureReturnsToFailed(t *testing.T) {
	s := memory.New()
	l := New(s, s, t.TempDir(), quietLogger())
	ctx := context.Background()
	openDrawerFor(t, s, 7)

	receipt, err := l.Record(ctx, sampleEntry())
	require.NoError(t, err)

	_, err = l.Retry(ctx, receipt.ID, func(context.Context, domain.FailedTransaction) (*domain.Transaction, error) {
		return nil, componentErr{component: "Payment"}
	})
	require.Error(t, err)

	got, err := l.Get(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailedStateFailed, got.State)
	assert.Equal(t, "Payment", got.FailedComponent)
	assert.Equal(t, "Payment failed", got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)
}

func TestRetryRequiresOpenDrawer(t *testing.T) {
	s := memory.New()
	l := New(s, s, t.TempDir(), quietLogger())
	ctx := context.Background()
	receipt, err := l.Record(ctx, sampleEntry())
	require.NoError(t, err)

	called := false
	_, err = l.Retry(ctx, receipt.ID, func(context.Context, domain.FailedTransaction) (*domain.Transaction, error) {
		called = true
		return nil, nil
	})
	require.ErrorIs(t, err, ErrNoOpenDrawer)
	assert.False(t, called)

	got, err := l.Get(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Drawer", got.FailedComponent)
	assert.Equal(t, domain.FailedStateFailed, got.State)
}

func TestRetryIsNotCappedInsideLedger(t *testing.T) {
	s := memory.New()
	l := New(s, s, t.TempDir(), quietLogger())
	ctx := context.Background()
	openDrawerFor(t, s, 7)
	receipt, err := l.Record(ctx, sampleEntry())
	require.NoError(t, err)

	fail := func(context.Context, domain.FailedTransaction) (*domain.Transaction, error) {
		return nil, errors.New("still broken")
	}
	for i := 0; i < domain.MaxRetryCount; i++ {
		_, err := l.Retry(ctx, receipt.ID, fail)
		require.Error(t, err)
	}

	got, err := l.Get(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxRetryCount, got.RetryCount)
	assert.False(t, got.CanRetry())

	_, err = l.Retry(ctx, receipt.ID, fail)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRetryable)
}

func TestCancel(t *testing.T) {
	s := memory.New()
	l := New(s, s, t.TempDir(), quietLogger())
	ctx := context.Background()
	receipt, err := l.Record(ctx, sampleEntry())
	require.NoError(t, err)

	got, err := l.Cancel(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailedStateCancelled, got.State)

	_, err = l.Cancel(ctx, receipt.ID)
	require.ErrorIs(t, err, ErrNotRetryable)
	_, err = l.Retry(ctx, receipt.ID, nil)
	require.ErrorIs(t, err, ErrNotRetryable)
}
