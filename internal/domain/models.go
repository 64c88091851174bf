package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalkInCustomerID is the sentinel customer for anonymous sales. Debt is never
// posted to it.
const WalkInCustomerID int64 = 0

func IsWalkIn(customerID int64) bool {
	return customerID <= WalkInCustomerID
}

type Product struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Barcode          string          `json:"barcode,omitempty"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	WholesalePrice   decimal.Decimal `json:"wholesale_price"`
	BoxPrice         decimal.Decimal `json:"box_price"`
	PurchasePrice    decimal.Decimal `json:"purchase_price"`
	BoxPurchasePrice decimal.Decimal `json:"box_purchase_price"`
	CurrentStock     decimal.Decimal `json:"current_stock"`
	BoxStock         decimal.Decimal `json:"box_stock"`
	ItemsPerBox      int             `json:"items_per_box"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type Customer struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Cashier struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type CartLine struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	IsBox       bool            `json:"is_box"`
	IsWholesale bool            `json:"is_wholesale"`
}

// LineTotal is quantity × unit price less the line discount, never negative.
func (l CartLine) LineTotal() decimal.Decimal {
	total := l.Quantity.Mul(l.UnitPrice).Sub(l.Discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Boxes is the whole number of boxes a box line moves.
func (l CartLine) Boxes() decimal.Decimal {
	return l.Quantity.Floor()
}

type Transaction struct {
	ID            int64               `json:"id"`
	CustomerID    *int64              `json:"customer_id,omitempty"`
	CustomerName  string              `json:"customer_name,omitempty"`
	DrawerID      int64               `json:"drawer_id"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	PaidAmount    decimal.Decimal     `json:"paid_amount"`
	ChangeAmount  decimal.Decimal     `json:"change_amount"`
	Timestamp     time.Time           `json:"timestamp"`
	Type          string              `json:"type"`
	Status        string              `json:"status"`
	PaymentMethod string              `json:"payment_method"`
	CashierID     int64               `json:"cashier_id"`
	CashierName   string              `json:"cashier_name"`
	CashierRole   string              `json:"cashier_role"`
	Details       []TransactionDetail `json:"details"`
}

type TransactionDetail struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	IsBox         bool            `json:"is_box"`
	IsWholesale   bool            `json:"is_wholesale"`
}

type Drawer struct {
	ID                    int64           `json:"id"`
	CashierID             int64           `json:"cashier_id"`
	CashierName           string          `json:"cashier_name"`
	OpeningBalance        decimal.Decimal `json:"opening_balance"`
	CurrentBalance        decimal.Decimal `json:"current_balance"`
	CashIn                decimal.Decimal `json:"cash_in"`
	CashOut               decimal.Decimal `json:"cash_out"`
	TotalSales            decimal.Decimal `json:"total_sales"`
	TotalExpenses         decimal.Decimal `json:"total_expenses"`
	TotalSupplierPayments decimal.Decimal `json:"total_supplier_payments"`
	DailySales            decimal.Decimal `json:"daily_sales"`
	DailyExpenses         decimal.Decimal `json:"daily_expenses"`
	DailySupplierPayments decimal.Decimal `json:"daily_supplier_payments"`
	DailyDate             time.Time       `json:"daily_date"`
	NetCashFlow           decimal.Decimal `json:"net_cash_flow"`
	NetSales              decimal.Decimal `json:"net_sales"`
	ClosingBalance        decimal.Decimal `json:"closing_balance"`
	Difference            decimal.Decimal `json:"difference"`
	Status                string          `json:"status"`
	OpenedAt              time.Time       `json:"opened_at"`
	ClosedAt              *time.Time      `json:"closed_at,omitempty"`
	Notes                 string          `json:"notes"`
}

func (d Drawer) IsOpen() bool {
	return d.Status == DrawerStatusOpen
}

// ExpectedBalance is what the till should hold given the recorded movements.
func (d Drawer) ExpectedBalance() decimal.Decimal {
	return d.OpeningBalance.Add(d.NetCashFlow)
}

type DrawerTransaction struct {
	ID           int64           `json:"id"`
	DrawerID     int64           `json:"drawer_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reference    string          `json:"reference,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	CashierID    int64           `json:"cashier_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

type DrawerHistory struct {
	ID            int64           `json:"id"`
	DrawerID      int64           `json:"drawer_id"`
	Action        string          `json:"action"`
	Description   string          `json:"description"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MaxRetryCount is the retry ceiling reported by FailedTransaction.CanRetry.
const MaxRetryCount = 5

// FailedCartItem is the serializable snapshot of a cart line. It deliberately
// holds no reference to live product rows.
type FailedCartItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Discount    decimal.Decimal `json:"discount"`
	IsBox       bool            `json:"is_box"`
	IsWholesale bool            `json:"is_wholesale"`
}

type FailedTransaction struct {
	ID                     int64            `json:"id"`
	OriginalTransactionID  *int64           `json:"original_transaction_id,omitempty"`
	Items                  []FailedCartItem `json:"items"`
	CashierID              int64            `json:"cashier_id"`
	CashierName            string           `json:"cashier_name"`
	CashierRole            string           `json:"cashier_role"`
	CustomerID             int64            `json:"customer_id"`
	CustomerName           string           `json:"customer_name,omitempty"`
	PaymentMethod          string           `json:"payment_method"`
	PaidAmount             decimal.Decimal  `json:"paid_amount"`
	TotalAmount            decimal.Decimal  `json:"total_amount"`
	ErrorMessage           string           `json:"error_message"`
	FailedComponent        string           `json:"failed_component"`
	ErrorDetail            string           `json:"error_detail,omitempty"`
	State                  string           `json:"state"`
	RetryCount             int              `json:"retry_count"`
	LastRetryAt            *time.Time       `json:"last_retry_at,omitempty"`
	CompletedTransactionID *int64           `json:"completed_transaction_id,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

func (f FailedTransaction) CanRetry() bool {
	return f.State == FailedStateFailed && f.RetryCount < MaxRetryCount
}

func SnapshotCart(lines []CartLine) []FailedCartItem {
	items := make([]FailedCartItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, FailedCartItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			Discount:    line.Discount,
			IsBox:       line.IsBox,
			IsWholesale: line.IsWholesale,
		})
	}
	return items
}

func (f FailedTransaction) CartLines() []CartLine {
	lines := make([]CartLine, 0, len(f.Items))
	for _, item := range f.Items {
		lines = append(lines, CartLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
			IsBox:       item.IsBox,
			IsWholesale: item.IsWholesale,
		})
	}
	return lines
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	ID       int64
	Username string
	Role     string
}

func (a Actor) Cashier() Cashier {
	return Cashier{ID: a.ID, Name: a.Username, Role: a.Role}
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        int64
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CheckoutRequest struct {
	Lines         []CartLine      `json:"lines" validate:"required,min=1,dive"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentMethod string          `json:"payment_method" validate:"max=40"`
	CustomerID    int64           `json:"customer_id" validate:"gte=0"`
	CustomerName  string          `json:"customer_name,omitempty" validate:"max=120"`
}

type CheckoutResponse struct {
	Transaction Transaction `json:"transaction"`
}

type DrawerOpenRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type DrawerMovementRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes" validate:"max=500"`
}

type DrawerCloseRequest struct {
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Notes          string          `json:"notes" validate:"max=500"`
}

type DrawerResponse struct {
	Drawer Drawer `json:"drawer"`
}

type BalanceAdjustmentRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

const (
	PaymentMethodCash     = "Cash"
	PaymentMethodCard     = "Card"
	PaymentMethodTransfer = "Transfer"
	PaymentMethodCredit   = "Credit"
)

const (
	TxTypeSale     = "sale"
	TxTypeReturn   = "return"
	TxTypeExchange = "exchange"
	TxTypeVoid     = "void"
	TxTypeRefund   = "refund"
)

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
	TxStatusVoided    = "voided"
	TxStatusRefunded  = "refunded"
)

const (
	DrawerStatusOpen   = "open"
	DrawerStatusClosed = "closed"
)

const (
	DrawerTxOpen            = "open"
	DrawerTxCashIn          = "cash_in"
	DrawerTxCashOut         = "cash_out"
	DrawerTxSale            = "sale"
	DrawerTxExpense         = "expense"
	DrawerTxSupplierPayment = "supplier_payment"
	DrawerTxClose           = "close"
)

const (
	FailedStateFailed    = "failed"
	FailedStateRetrying  = "retrying"
	FailedStateCompleted = "completed"
	FailedStateCancelled = "cancelled"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
