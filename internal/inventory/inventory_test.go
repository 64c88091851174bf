package inventory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
	"kasirinaja/register/internal/store/memory"
)

func newFixture(t *testing.T) (*memory.Store, *Adjuster, *domain.Product) {
	t.Helper()
	s := memory.New()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		Name:         "Susu UHT",
		CurrentStock: decimal.RequireFromString("30"),
		BoxStock:     decimal.RequireFromString("2"),
		ItemsPerBox:  12,
	})
	require.NoError(t, err)
	return s, New(slog.New(slog.NewTextHandler(io.Discard, nil))), p
}

func run(t *testing.T, s *memory.Store, fn func(ctx context.Context, tx store.Tx) (bool, error)) bool {
	t.Helper()
	var ok bool
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = fn(ctx, tx)
		return err
	}))
	return ok
}

func TestDecreaseUnits(t *testing.T) {
	s, a, p := newFixture(t)
	ok := run(t, s, func(ctx context.Context, tx store.Tx) (bool, error) {
		return a.DecreaseUnits(ctx, tx, p.ID, decimal.RequireFromString("2.5"))
	})
	require.True(t, ok)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "27.5", got.CurrentStock.String())
	assert.Equal(t, "2", got.BoxStock.String())
	assert.True(t, got.UpdatedAt.After(p.UpdatedAt) || got.UpdatedAt.Equal(p.UpdatedAt))
}

func TestDecreaseBoxesDebitsUnitsToo(t *testing.T) {
	s, a, p := newFixture(t)
	ok := run(t, s, func(ctx context.Context, tx store.Tx) (bool, error) {
		return a.DecreaseBoxes(ctx, tx, p.ID, decimal.NewFromInt(2))
	})
	require.True(t, ok)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, got.BoxStock.IsZero())
	assert.Equal(t, "6", got.CurrentStock.String())
}

func TestDecreaseClampsAtZero(t *testing.T) {
	s, a, p := newFixture(t)
	ok := run(t, s, func(ctx context.Context, tx store.Tx) (bool, error) {
		return a.DecreaseBoxes(ctx, tx, p.ID, decimal.NewFromInt(5))
	})
	require.True(t, ok)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, got.BoxStock.IsNegative())
	assert.False(t, got.CurrentStock.IsNegative())
	assert.True(t, got.CurrentStock.IsZero())
}

func TestMissingProductReportsFalse(t *testing.T) {
	s, a, _ := newFixture(t)
	ok := run(t, s, func(ctx context.Context, tx store.Tx) (bool, error) {
		return a.DecreaseUnits(ctx, tx, 999, decimal.NewFromInt(1))
	})
	assert.False(t, ok)
}

func TestNegativeQuantityIsRejected(t *testing.T) {
	s, a, p := newFixture(t)
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := a.DecreaseUnits(ctx, tx, p.ID, decimal.NewFromInt(-1))
		return err
	})
	require.ErrorIs(t, err, ErrNegativeQuantity)
}
