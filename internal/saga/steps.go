package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/recorder"
	"kasirinaja/register/internal/store"
)

const maxPaymentMethodLen = 40

type demand struct {
	name  string
	units decimal.Decimal
	boxes decimal.Decimal
}

// validate checks, in order: open drawer, cart lines and stock, paid amount,
// customer and debt. The first failing check decides the component.
func (s *Saga) validate(ctx context.Context, tx store.Tx, c Context) (Context, error) {
	req := c.Request

	d, err := tx.GetOpenDrawerForUpdate(ctx, req.Cashier.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c, fail(ComponentDrawer, err, "No open drawer for cashier %s", cashierLabel(req.Cashier))
		}
		return c, fail(ComponentDrawer, err, "Drawer lookup failed: %v", err)
	}
	if !d.IsOpen() {
		return c, fail(ComponentDrawer, nil, "Drawer %d is %s", d.ID, d.Status)
	}
	c.Drawer = d

	if len(req.Lines) == 0 {
		return c, fail(ComponentValidation, nil, "Cart is empty")
	}
	if len(req.PaymentMethod) > maxPaymentMethodLen {
		return c, fail(ComponentValidation, nil, "Payment method %q is longer than %d characters", req.PaymentMethod, maxPaymentMethodLen)
	}

	// sum per product so two lines of the same item cannot each pass alone
	demands := make(map[int64]*demand, len(req.Lines))
	order := make([]int64, 0, len(req.Lines))
	for i, line := range req.Lines {
		if !line.Quantity.IsPositive() {
			return c, fail(ComponentValidation, nil, "Line %d has non-positive quantity %s", i+1, line.Quantity)
		}
		if line.UnitPrice.IsNegative() {
			return c, fail(ComponentValidation, nil, "Line %d has negative unit price %s", i+1, line.UnitPrice)
		}
		if line.IsBox && !line.Quantity.IsInteger() {
			return c, fail(ComponentValidation, nil, "Line %d sells a fraction of a box (%s); box lines take whole boxes", i+1, line.Quantity)
		}

		dm, ok := demands[line.ProductID]
		if !ok {
			product, err := tx.GetProductForUpdate(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return c, fail(ComponentInventory, err, "Product %d not found", line.ProductID)
				}
				return c, fail(ComponentInventory, err, "Product %d lookup failed: %v", line.ProductID, err)
			}
			dm = &demand{name: product.Name}
			demands[line.ProductID] = dm
			order = append(order, line.ProductID)

			if line.IsBox {
				dm.boxes = line.Boxes()
			} else {
				dm.units = line.Quantity
			}
			if err := checkStock(product, dm); err != nil {
				return c, err
			}
			continue
		}

		if line.IsBox {
			dm.boxes = dm.boxes.Add(line.Boxes())
		} else {
			dm.units = dm.units.Add(line.Quantity)
		}
		product, err := tx.GetProductForUpdate(ctx, line.ProductID)
		if err != nil {
			return c, fail(ComponentInventory, err, "Product %d lookup failed: %v", line.ProductID, err)
		}
		if err := checkStock(product, dm); err != nil {
			return c, err
		}
	}

	if req.PaidAmount.IsNegative() {
		return c, fail(ComponentPayment, nil, "Paid amount %s is negative", req.PaidAmount)
	}

	if !domain.IsWalkIn(req.CustomerID) {
		if _, err := tx.GetCustomerForUpdate(ctx, req.CustomerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c, fail(ComponentCustomer, err, "Customer %d not found", req.CustomerID)
			}
			return c, fail(ComponentCustomer, err, "Customer %d lookup failed: %v", req.CustomerID, err)
		}
	}
	if c.DebtAmount.IsPositive() && !c.AddToCustomerDebt {
		return c, fail(ComponentPayment, nil, "Paid amount %s does not cover total %s; debt needs a registered customer",
			req.PaidAmount.StringFixed(2), c.TotalAmount.StringFixed(2))
	}

	return c.logf(s.now(), "validated %d products against drawer %d", len(order), d.ID), nil
}

func checkStock(product *domain.Product, dm *demand) error {
	if dm.boxes.GreaterThan(product.BoxStock) {
		return fail(ComponentInventory, store.ErrInsufficientStock,
			"Insufficient stock for %s: requested %s boxes, available %s", dm.name, dm.boxes, product.BoxStock)
	}
	if dm.units.GreaterThan(product.CurrentStock) {
		return fail(ComponentInventory, store.ErrInsufficientStock,
			"Insufficient stock for %s: requested %s, available %s", dm.name, dm.units, product.CurrentStock)
	}
	return nil
}

func (s *Saga) record(ctx context.Context, tx store.Tx, c Context) (Context, error) {
	req := c.Request
	created, err := s.recorder.Record(ctx, tx, recorder.Input{
		Lines:         req.Lines,
		Cashier:       req.Cashier,
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		DrawerID:      c.Drawer.ID,
		PaidAmount:    c.AppliedCash,
		ChangeAmount:  c.ChangeAmount,
		PaymentMethod: req.PaymentMethod,
		At:            s.now(),
	})
	if err != nil {
		return c, fail(ComponentDatabase, err, "Recording transaction failed: %v", err)
	}
	c.Transaction = created
	return c.logf(s.now(), "recorded transaction %d with %d details", created.ID, len(created.Details)), nil
}

func (s *Saga) updateInventory(ctx context.Context, tx store.Tx, c Context) (Context, error) {
	for _, line := range c.Request.Lines {
		var ok bool
		var err error
		if line.IsBox {
			ok, err = s.inventory.DecreaseBoxes(ctx, tx, line.ProductID, line.Boxes())
		} else {
			ok, err = s.inventory.DecreaseUnits(ctx, tx, line.ProductID, line.Quantity)
		}
		if err != nil {
			return c, fail(ComponentInventory, err, "Stock update for product %d failed: %v", line.ProductID, err)
		}
		if !ok {
			return c, fail(ComponentInventory, store.ErrNotFound, "Product %d disappeared during checkout", line.ProductID)
		}
	}
	return c.logf(s.now(), "decremented stock for %d lines", len(c.Request.Lines)), nil
}

// updateDrawer adds the amount paid toward the sale, whatever the payment
// method. Debt never reaches the till.
func (s *Saga) updateDrawer(ctx context.Context, tx store.Tx, c Context) (Context, error) {
	cash := c.AppliedCash
	if cash.IsZero() {
		return c.logf(s.now(), "no cash for drawer %d", c.Drawer.ID), nil
	}

	updated, err := s.drawers.ApplySale(ctx, tx, c.Drawer.ID, cash, fmt.Sprintf("sale #%d", c.Transaction.ID))
	if err != nil {
		return c, fail(ComponentDrawer, err, "Drawer %d update failed: %v", c.Drawer.ID, err)
	}
	c.Drawer = updated
	return c.logf(s.now(), "drawer %d +%s, balance %s", updated.ID, cash, updated.CurrentBalance), nil
}

func (s *Saga) updateCustomer(ctx context.Context, tx store.Tx, c Context) (Context, error) {
	if !c.AddToCustomerDebt || !c.DebtAmount.IsPositive() || domain.IsWalkIn(c.Request.CustomerID) {
		return c, nil
	}
	updated, err := s.customers.Adjust(ctx, tx, c.Request.CustomerID, c.DebtAmount)
	if err != nil {
		return c, fail(ComponentCustomer, err, "Customer %d balance update failed: %v", c.Request.CustomerID, err)
	}
	return c.logf(s.now(), "customer %d debt +%s, balance %s", updated.ID, c.DebtAmount, updated.Balance), nil
}

func (s *Saga) complete(ctx context.Context, _ store.Tx, c Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return c, fail(ComponentCompletion, err, "Checkout abandoned before commit: %v", err)
	}
	return c.logf(s.now(), "transaction %d ready to commit", c.Transaction.ID), nil
}

func cashierLabel(c domain.Cashier) string {
	if c.Name == "" {
		return fmt.Sprintf("#%d", c.ID)
	}
	return fmt.Sprintf("%s (#%d)", c.Name, c.ID)
}
