package memory

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
)

// Store keeps everything in process memory. Transactions run on a private
// copy of the state which replaces the live state only on commit, so a failed
// WithTx leaves no trace.
//
// txMu serialises every writer. Code running inside WithTx must use the
// provided store.Tx and never call write methods on Store itself.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

type state struct {
	products      map[int64]domain.Product
	customers     map[int64]domain.Customer
	drawers       map[int64]domain.Drawer
	drawerTxs     []domain.DrawerTransaction
	drawerHistory []domain.DrawerHistory
	transactions  map[int64]domain.Transaction
	failed        map[int64]domain.FailedTransaction
	users         map[string]domain.UserAccount
	seq           map[string]int64
}

func newState() *state {
	return &state{
		products:     make(map[int64]domain.Product),
		customers:    make(map[int64]domain.Customer),
		drawers:      make(map[int64]domain.Drawer),
		transactions: make(map[int64]domain.Transaction),
		failed:       make(map[int64]domain.FailedTransaction),
		users:        make(map[string]domain.UserAccount),
		seq:          make(map[string]int64),
	}
}

func (s *state) clone() *state {
	dup := &state{
		products:      maps.Clone(s.products),
		customers:     maps.Clone(s.customers),
		drawers:       maps.Clone(s.drawers),
		drawerTxs:     slices.Clone(s.drawerTxs),
		drawerHistory: slices.Clone(s.drawerHistory),
		transactions:  make(map[int64]domain.Transaction, len(s.transactions)),
		failed:        make(map[int64]domain.FailedTransaction, len(s.failed)),
		users:         maps.Clone(s.users),
		seq:           maps.Clone(s.seq),
	}
	for id, tx := range s.transactions {
		dup.transactions[id] = cloneTransaction(tx)
	}
	for id, f := range s.failed {
		dup.failed[id] = cloneFailed(f)
	}
	return dup
}

func (s *state) next(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

func New() *Store {
	return &Store{st: newState()}
}

// NewSeeded returns a store with demo products, customers and the two
// default accounts used in dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	products := []domain.Product{
		{Name: "Mie Goreng Instan", Barcode: "8990001", SalePrice: dec("3500"), WholesalePrice: dec("3200"), BoxPrice: dec("135000"), PurchasePrice: dec("2800"), BoxPurchasePrice: dec("110000"), CurrentStock: dec("400"), BoxStock: dec("10"), ItemsPerBox: 40},
		{Name: "Telur 10 Butir", Barcode: "8990002", SalePrice: dec("26500"), WholesalePrice: dec("25000"), BoxPrice: dec("250000"), PurchasePrice: dec("23000"), BoxPurchasePrice: dec("228000"), CurrentStock: dec("60"), BoxStock: dec("6"), ItemsPerBox: 10},
		{Name: "Susu UHT 1L", Barcode: "8990003", SalePrice: dec("18900"), WholesalePrice: dec("17500"), BoxPrice: dec("210000"), PurchasePrice: dec("13600"), BoxPurchasePrice: dec("160000"), CurrentStock: dec("120"), BoxStock: dec("10"), ItemsPerBox: 12},
		{Name: "Kopi Sachet", Barcode: "8990004", SalePrice: dec("2600"), WholesalePrice: dec("2300"), BoxPrice: dec("120000"), PurchasePrice: dec("1700"), BoxPurchasePrice: dec("80000"), CurrentStock: dec("500"), BoxStock: dec("10"), ItemsPerBox: 50},
		{Name: "Gula 1kg", Barcode: "8990005", SalePrice: dec("17400"), WholesalePrice: dec("16800"), BoxPrice: dec("170000"), PurchasePrice: dec("15300"), BoxPurchasePrice: dec("150000"), CurrentStock: dec("80"), BoxStock: dec("8"), ItemsPerBox: 10},
		{Name: "Air Mineral 600ml", Barcode: "8990006", SalePrice: dec("3900"), WholesalePrice: dec("3500"), BoxPrice: dec("80000"), PurchasePrice: dec("3200"), BoxPurchasePrice: dec("64000"), CurrentStock: dec("240"), BoxStock: dec("10"), ItemsPerBox: 24},
	}
	for _, p := range products {
		p.UpdatedAt = now
		p.ID = s.st.next("product")
		s.st.products[p.ID] = p
	}
	customers := []domain.Customer{
		{Name: "Warung Bu Sri", Phone: "081200000001", Balance: decimal.Zero},
		{Name: "Toko Makmur", Phone: "081200000002", Balance: dec("150000")},
	}
	for _, c := range customers {
		c.UpdatedAt = now
		c.ID = s.st.next("customer")
		s.st.customers[c.ID] = c
	}
	for _, u := range seedUsers() {
		u.ID = s.st.next("user")
		s.st.users[u.Username] = u
	}
	return s
}

// seedUsers builds the dev-mode accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to fixed dev
// defaults with a warning.
func seedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store: using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic("memory store: hash seed password: " + err.Error())
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// write applies fn to the live state outside of any saga transaction.
func (s *Store) write(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	var out *domain.Product
	err := s.read(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	var out []domain.Product
	_ = s.read(func(st *state) error {
		out = make([]domain.Product, 0, len(st.products))
		for _, p := range st.products {
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.ItemsPerBox < 0 {
		return nil, store.ErrInvalidTransaction
	}
	err := s.write(func(st *state) error {
		product.ID = st.next("product")
		if product.UpdatedAt.IsZero() {
			product.UpdatedAt = time.Now().UTC()
		}
		st.products[product.ID] = product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	var out *domain.Customer
	err := s.read(func(st *state) error {
		c, ok := st.customers[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	err := s.write(func(st *state) error {
		customer.ID = st.next("customer")
		if customer.UpdatedAt.IsZero() {
			customer.UpdatedAt = time.Now().UTC()
		}
		st.customers[customer.ID] = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetDrawer(_ context.Context, id int64) (*domain.Drawer, error) {
	var out *domain.Drawer
	err := s.read(func(st *state) error {
		d, ok := st.drawers[id]
		if !ok {
			return store.ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (s *Store) GetOpenDrawer(_ context.Context, cashierID int64) (*domain.Drawer, error) {
	var out *domain.Drawer
	err := s.read(func(st *state) error {
		d, ok := st.openDrawer(cashierID)
		if !ok {
			return store.ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (s *Store) ListDrawerTransactions(_ context.Context, drawerID int64, limit int) ([]domain.DrawerTransaction, error) {
	if limit < 1 {
		limit = 200
	}
	out := make([]domain.DrawerTransaction, 0, 16)
	_ = s.read(func(st *state) error {
		for i := len(st.drawerTxs) - 1; i >= 0 && len(out) < limit; i-- {
			if st.drawerTxs[i].DrawerID == drawerID {
				out = append(out, st.drawerTxs[i])
			}
		}
		return nil
	})
	return out, nil
}

func (s *Store) ListDrawerHistory(_ context.Context, drawerID int64, limit int) ([]domain.DrawerHistory, error) {
	if limit < 1 {
		limit = 200
	}
	out := make([]domain.DrawerHistory, 0, 16)
	_ = s.read(func(st *state) error {
		for i := len(st.drawerHistory) - 1; i >= 0 && len(out) < limit; i-- {
			if st.drawerHistory[i].DrawerID == drawerID {
				out = append(out, st.drawerHistory[i])
			}
		}
		return nil
	})
	return out, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id int64) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.read(func(st *state) error {
		tx, ok := st.transactions[id]
		if !ok {
			return store.ErrNotFound
		}
		dup := cloneTransaction(tx)
		out = &dup
		return nil
	})
	return out, err
}

func (s *Store) CreateFailedTransaction(_ context.Context, failed domain.FailedTransaction) (*domain.FailedTransaction, error) {
	err := s.write(func(st *state) error {
		failed.ID = st.next("failed")
		now := time.Now().UTC()
		if failed.CreatedAt.IsZero() {
			failed.CreatedAt = now
		}
		failed.UpdatedAt = now
		st.failed[failed.ID] = cloneFailed(failed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := cloneFailed(failed)
	return &out, nil
}

func (s *Store) GetFailedTransaction(_ context.Context, id int64) (*domain.FailedTransaction, error) {
	var out *domain.FailedTransaction
	err := s.read(func(st *state) error {
		f, ok := st.failed[id]
		if !ok {
			return store.ErrNotFound
		}
		dup := cloneFailed(f)
		out = &dup
		return nil
	})
	return out, err
}

func (s *Store) UpdateFailedTransaction(_ context.Context, failed domain.FailedTransaction) error {
	return s.write(func(st *state) error {
		if _, ok := st.failed[failed.ID]; !ok {
			return store.ErrNotFound
		}
		failed.UpdatedAt = time.Now().UTC()
		st.failed[failed.ID] = cloneFailed(failed)
		return nil
	})
}

func (s *Store) ListFailedTransactions(_ context.Context, want string, limit int) ([]domain.FailedTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	out := make([]domain.FailedTransaction, 0, 16)
	_ = s.read(func(st *state) error {
		for _, f := range st.failed {
			if want != "" && f.State != want {
				continue
			}
			out = append(out, cloneFailed(f))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	return s.write(func(st *state) error {
		if _, exists := st.users[user.Username]; exists {
			return store.ErrConflict
		}
		user.ID = st.next("user")
		st.users[user.Username] = user
		return nil
	})
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	var out []domain.UserAccount
	_ = s.read(func(st *state) error {
		out = make([]domain.UserAccount, 0, len(st.users))
		for _, u := range st.users {
			out = append(out, u)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	return s.write(func(st *state) error {
		user, ok := st.users[username]
		if !ok {
			return store.ErrNotFound
		}
		user.Password = password
		st.users[username] = user
		return nil
	})
}

func (st *state) openDrawer(cashierID int64) (domain.Drawer, bool) {
	var found domain.Drawer
	ok := false
	for _, d := range st.drawers {
		if d.CashierID == cashierID && d.Status == domain.DrawerStatusOpen {
			if !ok || d.OpenedAt.After(found.OpenedAt) {
				found = d
				ok = true
			}
		}
	}
	return found, ok
}

type memTx struct {
	st *state
}

func (t *memTx) GetProductForUpdate(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) UpdateProductStock(_ context.Context, id int64, currentStock decimal.Decimal, boxStock decimal.Decimal, at time.Time) error {
	p, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.CurrentStock = currentStock
	p.BoxStock = boxStock
	p.UpdatedAt = at
	t.st.products[id] = p
	return nil
}

func (t *memTx) GetCustomerForUpdate(_ context.Context, id int64) (*domain.Customer, error) {
	c, ok := t.st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) UpdateCustomerBalance(_ context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	c, ok := t.st.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Balance = balance
	c.UpdatedAt = at
	t.st.customers[id] = c
	return nil
}

func (t *memTx) GetOpenDrawerForUpdate(_ context.Context, cashierID int64) (*domain.Drawer, error) {
	d, ok := t.st.openDrawer(cashierID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (t *memTx) GetDrawerForUpdate(_ context.Context, id int64) (*domain.Drawer, error) {
	d, ok := t.st.drawers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (t *memTx) InsertDrawer(_ context.Context, drawer domain.Drawer) (*domain.Drawer, error) {
	if drawer.Status == domain.DrawerStatusOpen {
		if _, exists := t.st.openDrawer(drawer.CashierID); exists {
			return nil, store.ErrConflict
		}
	}
	drawer.ID = t.st.next("drawer")
	t.st.drawers[drawer.ID] = drawer
	return &drawer, nil
}

func (t *memTx) UpdateDrawer(_ context.Context, drawer domain.Drawer) error {
	if _, ok := t.st.drawers[drawer.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.drawers[drawer.ID] = drawer
	return nil
}

func (t *memTx) InsertDrawerTransaction(_ context.Context, entry domain.DrawerTransaction) error {
	entry.ID = t.st.next("drawer_tx")
	t.st.drawerTxs = append(t.st.drawerTxs, entry)
	return nil
}

func (t *memTx) InsertDrawerHistory(_ context.Context, entry domain.DrawerHistory) error {
	entry.ID = t.st.next("drawer_history")
	t.st.drawerHistory = append(t.st.drawerHistory, entry)
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	tx.ID = t.st.next("transaction")
	tx.Details = nil
	t.st.transactions[tx.ID] = tx
	out := cloneTransaction(tx)
	return &out, nil
}

func (t *memTx) InsertTransactionDetail(_ context.Context, detail domain.TransactionDetail) (*domain.TransactionDetail, error) {
	parent, ok := t.st.transactions[detail.TransactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	detail.ID = t.st.next("transaction_detail")
	parent.Details = append(slices.Clone(parent.Details), detail)
	t.st.transactions[parent.ID] = parent
	return &detail, nil
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	dup := src
	dup.Details = slices.Clone(src.Details)
	if src.CustomerID != nil {
		id := *src.CustomerID
		dup.CustomerID = &id
	}
	return dup
}

func cloneFailed(src domain.FailedTransaction) domain.FailedTransaction {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
