// Package saga finalizes a checkout. The attempt walks a fixed sequence of
// states inside one database transaction and commits only when it reaches
// completed. A failed attempt leaves nothing behind except its failure ledger
// entry, which is written after the rollback.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kasirinaja/register/internal/customer"
	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/drawer"
	"kasirinaja/register/internal/failure"
	"kasirinaja/register/internal/inventory"
	"kasirinaja/register/internal/recorder"
	"kasirinaja/register/internal/store"
	"kasirinaja/register/internal/xid"
)

// FailureLedger is the part of failure.Ledger the saga depends on.
type FailureLedger interface {
	Record(ctx context.Context, entry failure.Entry) (failure.Receipt, error)
	Retry(ctx context.Context, id int64, replay failure.ReplayFunc) (*domain.Transaction, error)
}

type Deps struct {
	Store     store.TxRunner
	Inventory *inventory.Adjuster
	Drawers   *drawer.Ledger
	Customers *customer.Ledger
	Recorder  *recorder.Recorder
	Failures  FailureLedger
	Logger    *slog.Logger
}

type Saga struct {
	repo      store.TxRunner
	inventory *inventory.Adjuster
	drawers   *drawer.Ledger
	customers *customer.Ledger
	recorder  *recorder.Recorder
	failures  FailureLedger
	logger    *slog.Logger
	now       func() time.Time
	steps     []step
}

// stepFunc is the action of one state. It returns the context to hand to the
// next state.
type stepFunc func(ctx context.Context, tx store.Tx, c Context) (Context, error)

type step struct {
	state     State
	component Component
	run       stepFunc
}

func New(deps Deps) *Saga {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Saga{
		repo:      deps.Store,
		inventory: deps.Inventory,
		drawers:   deps.Drawers,
		customers: deps.Customers,
		recorder:  deps.Recorder,
		failures:  deps.Failures,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.recorder == nil {
		s.recorder = recorder.New()
	}
	s.steps = []step{
		{StateValidatingData, ComponentValidation, s.validate},
		{StateRecordingTransaction, ComponentDatabase, s.record},
		{StateUpdatingInventory, ComponentInventory, s.updateInventory},
		{StateUpdatingDrawer, ComponentDrawer, s.updateDrawer},
		{StateUpdatedCustomerBalance, ComponentCustomer, s.updateCustomer},
		{StateCompleted, ComponentCompletion, s.complete},
	}
	return s
}

// Finalize runs one checkout. On failure the attempt is recorded in the
// failure ledger before the *Failure is returned.
func (s *Saga) Finalize(ctx context.Context, req Request) (*domain.Transaction, error) {
	final, err := s.execute(ctx, req)
	if err == nil {
		return final.Transaction, nil
	}

	var f *Failure
	if !errors.As(err, &f) {
		return nil, err
	}

	// the ledger write must happen even if the caller has gone away
	receipt, recErr := s.failures.Record(context.WithoutCancel(ctx), failure.Entry{
		Lines:         final.Request.Lines,
		Cashier:       final.Request.Cashier,
		CustomerID:    final.Request.CustomerID,
		CustomerName:  final.Request.CustomerName,
		PaymentMethod: final.Request.PaymentMethod,
		PaidAmount:    final.Request.PaidAmount,
		TotalAmount:   final.TotalAmount,
		Component:     string(f.Component),
		Err:           errors.New(f.Message),
		Detail:        strings.Join(final.TransactionLog, "\n"),
	})
	f.FailedID = receipt.ID
	f.BackupPath = receipt.BackupPath
	if recErr != nil {
		s.logger.Error("checkout failure could not be recorded",
			slog.String("attempt_id", f.AttemptID),
			slog.Any("error", recErr),
		)
		f.Err = errors.Join(f.Err, recErr)
	}
	return nil, f
}

// Retry replays a failure ledger entry as a fresh attempt. A failed replay
// updates the existing entry instead of recording a new one.
func (s *Saga) Retry(ctx context.Context, failedID int64) (*domain.Transaction, error) {
	return s.failures.Retry(ctx, failedID, s.replay)
}

func (s *Saga) replay(ctx context.Context, failed domain.FailedTransaction) (*domain.Transaction, error) {
	final, err := s.execute(ctx, Request{
		Lines:         failed.CartLines(),
		Cashier:       domain.Cashier{ID: failed.CashierID, Name: failed.CashierName, Role: failed.CashierRole},
		CustomerID:    failed.CustomerID,
		CustomerName:  failed.CustomerName,
		PaymentMethod: failed.PaymentMethod,
		PaidAmount:    failed.PaidAmount,
	})
	if err != nil {
		return nil, err
	}
	return final.Transaction, nil
}

// execute runs the state walk inside one transaction and returns the last
// context together with a *Failure when the attempt did not commit.
func (s *Saga) execute(ctx context.Context, req Request) (Context, error) {
	c := newContext(xid.New("attempt"), req, s.now())
	log := s.logger.With(slog.String("attempt_id", c.AttemptID), slog.Int64("cashier_id", req.Cashier.ID))

	final := c
	var walkErr error
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		final, walkErr = s.drive(ctx, tx, c, log)
		return walkErr
	})

	if err != nil && walkErr == nil {
		// begin or commit failed outside any state
		msg := fmt.Sprintf("database error: %v", err)
		failedAt := final.State
		final.State = StateFailed
		final.Component = ComponentDatabase
		final.ErrorMessage = msg
		final.LastErr = err
		final = final.logf(s.now(), "failed at %s [%s]: %s", failedAt, ComponentDatabase, msg)
		err = &Failure{
			AttemptID: final.AttemptID,
			State:     failedAt,
			Component: ComponentDatabase,
			Message:   msg,
			Err:       err,
			Log:       final.TransactionLog,
		}
	}
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			log.Warn("checkout failed",
				slog.String("state", string(f.State)),
				slog.String("component", string(f.Component)),
				slog.String("error", f.Message),
			)
		}
		log.Debug("checkout audit", slog.Any("transitions", final.TransactionLog))
		return final, err
	}

	log.Info("checkout completed",
		slog.Int64("transaction_id", final.Transaction.ID),
		slog.String("total", final.TotalAmount.String()),
		slog.String("paid", final.AppliedCash.String()),
		slog.String("debt", final.DebtAmount.String()),
	)
	log.Debug("checkout audit", slog.Any("transitions", final.TransactionLog))
	return final, nil
}

// drive threads the context through the states and halts on the first
// failure.
func (s *Saga) drive(ctx context.Context, tx store.Tx, c Context, log *slog.Logger) (Context, error) {
	for _, st := range s.steps {
		c = c.enter(st.state, s.now())
		log.Debug("checkout state", slog.String("state", string(st.state)))

		next, err := s.run(ctx, tx, c, st)
		if err != nil {
			component, msg := componentOf(err, st.component)
			c.State = StateFailed
			c.Component = component
			c.ErrorMessage = msg
			c.LastErr = err
			c = c.logf(s.now(), "failed at %s [%s]: %s", st.state, component, msg)
			return c, &Failure{
				AttemptID: c.AttemptID,
				State:     st.state,
				Component: component,
				Message:   msg,
				Err:       err,
				Log:       c.TransactionLog,
			}
		}
		c = next
	}
	return c, nil
}

// run executes one state and turns a panic into a failure.
func (s *Saga) run(ctx context.Context, tx store.Tx, c Context, st step) (out Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = c
			err = fail(ComponentUnknown, fmt.Errorf("panic: %v", r), "unexpected error while %s: %v", st.state, r)
		}
	}()
	return st.run(ctx, tx, c)
}
