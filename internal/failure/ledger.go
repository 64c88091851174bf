// Package failure keeps the durable record of checkouts that did not
// complete. When the database itself rejects the record, the entry is written
// as a JSON file to a local backup directory and imported later.
package failure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

var (
	ErrNotRetryable = errors.New("failed transaction is not in a retryable state")
	ErrNoOpenDrawer = errors.New("cashier has no open drawer")
)

// DrawerLookup returns the open drawer of a cashier or store.ErrNotFound.
type DrawerLookup interface {
	GetOpenDrawer(ctx context.Context, cashierID int64) (*domain.Drawer, error)
}

// ReplayFunc runs a fresh checkout for a recorded failure.
type ReplayFunc func(ctx context.Context, failed domain.FailedTransaction) (*domain.Transaction, error)

// Entry is what a caller knows about an attempt that failed.
type Entry struct {
	OriginalTransactionID *int64
	Lines                 []domain.CartLine
	Cashier               domain.Cashier
	CustomerID            int64
	CustomerName          string
	PaymentMethod         string
	PaidAmount            decimal.Decimal
	TotalAmount           decimal.Decimal
	Component             string
	Err                   error
	Detail                string
}

// Receipt tells where an entry ended up. ID is zero when only the backup
// file was written.
type Receipt struct {
	ID         int64
	BackupPath string
}

type Ledger struct {
	store     store.FailureStore
	drawers   DrawerLookup
	backupDir string
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

func New(failures store.FailureStore, drawers DrawerLookup, backupDir string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:     failures,
		drawers:   drawers,
		backupDir: backupDir,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record stores a failed attempt with state failed and no retries. If the
// database write fails it falls back to a backup file. The returned error is
// non-nil only when both writes failed and the entry is lost.
func (l *Ledger) Record(ctx context.Context, entry Entry) (Receipt, error) {
	failed := l.snapshot(entry)

	created, dbErr := l.store.CreateFailedTransaction(ctx, failed)
	if dbErr == nil {
		l.logger.Info("failed transaction recorded",
			slog.Int64("failed_id", created.ID),
			slog.String("component", failed.FailedComponent),
			slog.Int64("cashier_id", failed.CashierID),
		)
		return Receipt{ID: created.ID}, nil
	}

	l.logger.Warn("failed transaction not stored, writing local backup", slog.Any("error", dbErr))
	path, fileErr := l.writeBackup(failed)
	if fileErr != nil {
		l.logger.Error("failed transaction lost",
			slog.Any("db_error", dbErr),
			slog.Any("backup_error", fileErr),
			slog.Int64("cashier_id", failed.CashierID),
			slog.String("total", failed.TotalAmount.String()),
		)
		return Receipt{}, errors.Join(fmt.Errorf("store failed transaction: %w", dbErr), fmt.Errorf("write backup: %w", fileErr))
	}
	l.logger.Info("failed transaction backed up", slog.String("path", path))
	return Receipt{BackupPath: path}, nil
}

func (l *Ledger) snapshot(entry Entry) domain.FailedTransaction {
	now := l.now()
	msg := "unknown error"
	if entry.Err != nil {
		msg = entry.Err.Error()
	}
	component := entry.Component
	if component == "" {
		component = "Unknown"
	}
	method := entry.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodCash
	}
	return domain.FailedTransaction{
		OriginalTransactionID: entry.OriginalTransactionID,
		Items:                 domain.SnapshotCart(entry.Lines),
		CashierID:             entry.Cashier.ID,
		CashierName:           entry.Cashier.Name,
		CashierRole:           entry.Cashier.Role,
		CustomerID:            entry.CustomerID,
		CustomerName:          entry.CustomerName,
		PaymentMethod:         method,
		PaidAmount:            entry.PaidAmount,
		TotalAmount:           entry.TotalAmount,
		ErrorMessage:          msg,
		FailedComponent:       component,
		ErrorDetail:           entry.Detail,
		State:                 domain.FailedStateFailed,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func (l *Ledger) Get(ctx context.Context, id int64) (*domain.FailedTransaction, error) {
	return l.store.GetFailedTransaction(ctx, id)
}

// List returns entries newest first. An empty state lists every entry.
func (l *Ledger) List(ctx context.Context, state string, limit int) ([]domain.FailedTransaction, error) {
	return l.store.ListFailedTransactions(ctx, state, limit)
}

// Retry replays a failed entry. Only entries in state failed are accepted;
// the retry ceiling is reported by CanRetry and enforced by callers.
func (l *Ledger) Retry(ctx context.Context, id int64, replay ReplayFunc) (*domain.Transaction, error) {
	failed, err := l.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	log := l.logger.With(slog.Int64("failed_id", id), slog.Int("retry", failed.RetryCount))

	if _, err := l.drawers.GetOpenDrawer(ctx, failed.CashierID); err != nil {
		cause := err
		if errors.Is(err, store.ErrNotFound) {
			cause = ErrNoOpenDrawer
		}
		return nil, l.release(ctx, *failed, "Drawer", cause, log)
	}

	tx, err := replay(ctx, *failed)
	if err != nil {
		component := "Unknown"
		var tagged interface{ FailureComponent() string }
		if errors.As(err, &tagged) {
			component = tagged.FailureComponent()
		}
		return nil, l.release(ctx, *failed, component, err, log)
	}

	txID := tx.ID
	failed.State = domain.FailedStateCompleted
	failed.CompletedTransactionID = &txID
	if err := l.store.UpdateFailedTransaction(ctx, *failed); err != nil {
		// the sale is committed; only the bookkeeping is behind
		log.Error("retry succeeded but entry not marked completed", slog.Int64("transaction_id", txID), slog.Any("error", err))
		return tx, nil
	}
	log.Info("failed transaction retried", slog.Int64("transaction_id", txID))
	return tx, nil
}

// claim moves a failed entry to retrying.
func (l *Ledger) claim(ctx context.Context, id int64) (*domain.FailedTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	failed, err := l.store.GetFailedTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.State != domain.FailedStateFailed {
		return nil, fmt.Errorf("%w: %s", ErrNotRetryable, failed.State)
	}

	now := l.now()
	failed.RetryCount++
	failed.State = domain.FailedStateRetrying
	failed.LastRetryAt = &now
	if err := l.store.UpdateFailedTransaction(ctx, *failed); err != nil {
		return nil, err
	}
	return failed, nil
}

func (l *Ledger) release(ctx context.Context, failed domain.FailedTransaction, component string, cause error, log *slog.Logger) error {
	failed.State = domain.FailedStateFailed
	failed.FailedComponent = component
	failed.ErrorMessage = cause.Error()
	if err := l.store.UpdateFailedTransaction(ctx, failed); err != nil {
		log.Error("could not return entry to failed state", slog.Any("error", err))
		return errors.Join(cause, err)
	}
	log.Warn("retry failed", slog.String("component", component), slog.Any("error", cause))
	return cause
}

// Cancel discards a failed entry for good.
func (l *Ledger) Cancel(ctx context.Context, id int64) (*domain.FailedTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	failed, err := l.store.GetFailedTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.State != domain.FailedStateFailed {
		return nil, fmt.Errorf("%w: %s", ErrNotRetryable, failed.State)
	}
	failed.State = domain.FailedStateCancelled
	if err := l.store.UpdateFailedTransaction(ctx, *failed); err != nil {
		return nil, err
	}
	l.logger.Info("failed transaction cancelled", slog.Int64("failed_id", id))
	return failed, nil
}
