package saga

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/recorder"
)

type State string

const (
	StateCreated                State = "created"
	StateValidatingData         State = "validating_data"
	StateRecordingTransaction   State = "recording_transaction"
	StateUpdatingInventory      State = "updating_inventory"
	StateUpdatingDrawer         State = "updating_drawer"
	StateUpdatedCustomerBalance State = "updated_customer_balance"
	StateCompleted              State = "completed"
	StateFailed                 State = "failed"
)

// Component tags the part of the checkout that failed.
type Component string

const (
	ComponentValidation Component = "Validation"
	ComponentInventory  Component = "Inventory"
	ComponentPayment    Component = "Payment"
	ComponentCustomer   Component = "Customer"
	ComponentDrawer     Component = "Drawer"
	ComponentDatabase   Component = "Database"
	ComponentCompletion Component = "Completion"
	ComponentUnknown    Component = "Unknown"
)

// Request is one checkout as submitted by the till.
type Request struct {
	Lines         []domain.CartLine
	Cashier       domain.Cashier
	CustomerID    int64
	CustomerName  string
	PaymentMethod string
	PaidAmount    decimal.Decimal
}

// Context is the value threaded through the states of one attempt. States
// receive a copy and return the next one.
type Context struct {
	AttemptID string
	Request   Request

	TotalAmount       decimal.Decimal
	DebtAmount        decimal.Decimal
	ChangeAmount      decimal.Decimal
	AppliedCash       decimal.Decimal
	AddToCustomerDebt bool

	State        State
	Drawer       *domain.Drawer
	Transaction  *domain.Transaction
	ErrorMessage string
	Component    Component
	LastErr      error

	// TransactionLog holds timestamped transitions and is the audit trail of
	// the attempt.
	TransactionLog []string
}

func newContext(attemptID string, req Request, at time.Time) Context {
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}
	req.Lines = slices.Clone(req.Lines)

	total := recorder.Total(req.Lines)
	paid := req.PaidAmount

	debt := total.Sub(paid)
	if debt.IsNegative() {
		debt = decimal.Zero
	}
	change := paid.Sub(total)
	if change.IsNegative() {
		change = decimal.Zero
	}
	applied := decimal.Min(paid, total)
	if applied.IsNegative() {
		applied = decimal.Zero
	}

	c := Context{
		AttemptID:         attemptID,
		Request:           req,
		TotalAmount:       total,
		DebtAmount:        debt,
		ChangeAmount:      change,
		AppliedCash:       applied,
		AddToCustomerDebt: debt.IsPositive() && !domain.IsWalkIn(req.CustomerID),
		State:             StateCreated,
	}
	return c.logf(at, "created: %d lines, total %s, paid %s", len(req.Lines), total.String(), paid.String())
}

// logf returns a copy of c with one more audit line. The backing array is
// never shared with the receiver.
func (c Context) logf(at time.Time, format string, args ...any) Context {
	line := at.UTC().Format("2006-01-02T15:04:05.000Z07:00") + " " + fmt.Sprintf(format, args...)
	c.TransactionLog = append(slices.Clip(c.TransactionLog), line)
	return c
}

func (c Context) enter(state State, at time.Time) Context {
	from := c.State
	c.State = state
	return c.logf(at, "%s -> %s", from, state)
}
