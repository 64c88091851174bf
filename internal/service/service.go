package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kasirinaja/register/internal/cache"
	"kasirinaja/register/internal/customer"
	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/drawer"
	"kasirinaja/register/internal/failure"
	"kasirinaja/register/internal/inventory"
	"kasirinaja/register/internal/recorder"
	"kasirinaja/register/internal/saga"
	"kasirinaja/register/internal/store"
)

var (
	ErrUnauthenticated = errors.New("authenticated actor required")
	ErrForbidden       = errors.New("admin role required")
	ErrRetryLimit      = errors.New("retry limit reached")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// BackupQueue hands a backup import to the background worker.
type BackupQueue interface {
	EnqueueImportBackups(ctx context.Context, requestedBy string) (string, error)
}

type Deps struct {
	Repo      store.Repository
	Saga      *saga.Saga
	Drawers   *drawer.Ledger
	Customers *customer.Ledger
	Failures  *failure.Ledger
	Products  *cache.Loader
	Queue     BackupQueue
	Logger    *slog.Logger
}

type Service struct {
	repo      store.Repository
	saga      *saga.Saga
	drawers   *drawer.Ledger
	customers *customer.Ledger
	failures  *failure.Ledger
	products  *cache.Loader
	queue     BackupQueue
	validate  *validator.Validate
	logger    *slog.Logger
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	products := deps.Products
	if products == nil {
		products = cache.NewLoader(cache.NoopProductCache{}, 0, logger)
	}
	return &Service{
		repo:      deps.Repo,
		saga:      deps.Saga,
		drawers:   deps.Drawers,
		customers: deps.Customers,
		failures:  deps.Failures,
		products:  products,
		queue:     deps.Queue,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Options carries what Assemble needs besides the repository.
type Options struct {
	ProductCache    cache.ProductCache
	ProductCacheTTL time.Duration
	BackupDir       string
	Queue           BackupQueue
	Logger          *slog.Logger
}

// Assemble builds the checkout core over one repository.
func Assemble(repo store.Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	drawers := drawer.New(repo, logger)
	customers := customer.New(repo, logger)
	failures := failure.New(repo, repo, opts.BackupDir, logger)
	sg := saga.New(saga.Deps{
		Store:     repo,
		Inventory: inventory.New(logger),
		Drawers:   drawers,
		Customers: customers,
		Recorder:  recorder.New(),
		Failures:  failures,
		Logger:    logger,
	})
	return New(Deps{
		Repo:      repo,
		Saga:      sg,
		Drawers:   drawers,
		Customers: customers,
		Failures:  failures,
		Products:  cache.NewLoader(opts.ProductCache, opts.ProductCacheTTL, logger),
		Queue:     opts.Queue,
		Logger:    logger,
	})
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.CheckoutResponse{}, err
	}

	tx, err := s.saga.Finalize(ctx, saga.Request{
		Lines:         req.Lines,
		Cashier:       actor.Cashier(),
		CustomerID:    req.CustomerID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		PaymentMethod: req.PaymentMethod,
		PaidAmount:    req.PaidAmount,
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	s.products.Invalidate(ctx, productIDs(req.Lines)...)
	return domain.CheckoutResponse{Transaction: *tx}, nil
}

func (s *Service) LookupTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.FindTransactionByID(ctx, id)
}

func (s *Service) LookupProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.products.Product(ctx, id, s.repo.GetProduct)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) OpenDrawer(ctx context.Context, req domain.DrawerOpenRequest) (*domain.Drawer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.drawers.Open(ctx, actor.Cashier(), req.OpeningBalance)
}

func (s *Service) GetActiveDrawer(ctx context.Context) (*domain.Drawer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetOpenDrawer(ctx, actor.ID)
}

func (s *Service) CashIn(ctx context.Context, drawerID int64, req domain.DrawerMovementRequest) (*domain.Drawer, error) {
	if err := s.checkDrawer(ctx, drawerID, req); err != nil {
		return nil, err
	}
	return s.drawers.CashIn(ctx, drawerID, req.Amount, strings.TrimSpace(req.Notes))
}

func (s *Service) CashOut(ctx context.Context, drawerID int64, req domain.DrawerMovementRequest) (*domain.Drawer, error) {
	if err := s.checkDrawer(ctx, drawerID, req); err != nil {
		return nil, err
	}
	return s.drawers.CashOut(ctx, drawerID, req.Amount, strings.TrimSpace(req.Notes))
}

func (s *Service) RecordExpense(ctx context.Context, drawerID int64, req domain.DrawerMovementRequest) (*domain.Drawer, error) {
	if err := s.checkDrawer(ctx, drawerID, req); err != nil {
		return nil, err
	}
	return s.drawers.RecordExpense(ctx, drawerID, req.Amount, strings.TrimSpace(req.Notes))
}

func (s *Service) RecordSupplierPayment(ctx context.Context, drawerID int64, req domain.DrawerMovementRequest) (*domain.Drawer, error) {
	if err := s.checkDrawer(ctx, drawerID, req); err != nil {
		return nil, err
	}
	return s.drawers.RecordSupplierPayment(ctx, drawerID, req.Amount, strings.TrimSpace(req.Notes))
}

func (s *Service) CloseDrawer(ctx context.Context, drawerID int64, req domain.DrawerCloseRequest) (*domain.Drawer, error) {
	if err := s.checkDrawer(ctx, drawerID, req); err != nil {
		return nil, err
	}
	return s.drawers.Close(ctx, drawerID, req.ClosingBalance, strings.TrimSpace(req.Notes))
}

func (s *Service) ListDrawerTransactions(ctx context.Context, drawerID int64, limit int) ([]domain.DrawerTransaction, error) {
	if err := s.checkDrawer(ctx, drawerID, nil); err != nil {
		return nil, err
	}
	return s.repo.ListDrawerTransactions(ctx, drawerID, limit)
}

func (s *Service) ListFailed(ctx context.Context, state string, limit int) ([]domain.FailedTransaction, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	state = strings.ToLower(strings.TrimSpace(state))
	switch state {
	case "", domain.FailedStateFailed, domain.FailedStateRetrying, domain.FailedStateCompleted, domain.FailedStateCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown state %q", store.ErrInvalidTransaction, state)
	}
	return s.failures.List(ctx, state, limit)
}

// RetryFailed replays an entry while it is under the retry ceiling.
func (s *Service) RetryFailed(ctx context.Context, id int64) (*domain.Transaction, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	failed, err := s.failures.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !failed.CanRetry() {
		if failed.State != domain.FailedStateFailed {
			return nil, fmt.Errorf("%w: %s", failure.ErrNotRetryable, failed.State)
		}
		return nil, fmt.Errorf("%w: %d of %d", ErrRetryLimit, failed.RetryCount, domain.MaxRetryCount)
	}

	tx, err := s.saga.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(failed.Items))
	for _, item := range failed.Items {
		ids = append(ids, item.ProductID)
	}
	s.products.Invalidate(ctx, ids...)
	return tx, nil
}

func (s *Service) CancelFailed(ctx context.Context, id int64) (*domain.FailedTransaction, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.failures.Cancel(ctx, id)
}

type ImportResult struct {
	Queued bool                  `json:"queued"`
	TaskID string                `json:"task_id,omitempty"`
	Report *failure.ImportReport `json:"report,omitempty"`
}

// ImportBackups hands the import to the worker when a queue is configured and
// runs it inline otherwise.
func (s *Service) ImportBackups(ctx context.Context) (ImportResult, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	if s.queue != nil {
		id, err := s.queue.EnqueueImportBackups(ctx, actor.Username)
		if err == nil {
			return ImportResult{Queued: true, TaskID: id}, nil
		}
		s.logger.Warn("backup import not queued, running inline", slog.Any("error", err))
	}
	report, err := s.failures.ImportLocalBackups(ctx)
	return ImportResult{Report: &report}, err
}

func (s *Service) AdjustCustomerBalance(ctx context.Context, customerID int64, req domain.BalanceAdjustmentRequest) (*domain.Customer, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if req.Delta.IsZero() {
		return nil, fmt.Errorf("%w: delta must not be zero", store.ErrInvalidTransaction)
	}
	return s.customers.AdjustBalance(ctx, customerID, req.Delta)
}

// checkDrawer lets a cashier touch only their own drawer. Admins may touch
// any drawer.
func (s *Service) checkDrawer(ctx context.Context, drawerID int64, req any) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if req != nil {
		if err := s.check(req); err != nil {
			return err
		}
	}
	d, err := s.repo.GetDrawer(ctx, drawerID)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleAdmin && d.CashierID != actor.ID {
		return fmt.Errorf("%w: drawer %d belongs to another cashier", ErrForbidden, drawerID)
	}
	return nil
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, strings.Join(parts, "; "))
		}
		return fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	return nil
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID <= 0 {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return actor, err
	}
	if actor.Role != domain.RoleAdmin {
		return actor, ErrForbidden
	}
	return actor, nil
}

func productIDs(lines []domain.CartLine) []int64 {
	seen := make(map[int64]bool, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		ids = append(ids, line.ProductID)
	}
	return ids
}
