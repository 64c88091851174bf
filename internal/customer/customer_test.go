package customer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/store"
	"kasirinaja/register/internal/store/memory"
)

func TestAdjustBalanceAppliesSignedDelta(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	c, err := s.CreateCustomer(ctx, domain.Customer{Name: "Bu Sri", Balance: decimal.RequireFromString("12.50")})
	require.NoError(t, err)

	l := New(s, nil)
	got, err := l.AdjustBalance(ctx, c.ID, decimal.RequireFromString("7.50"))
	require.NoError(t, err)
	assert.Equal(t, "20", got.Balance.String())

	got, err = l.AdjustBalance(ctx, c.ID, decimal.RequireFromString("-20"))
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())

	stored, err := s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.IsZero())
}

func TestAdjustRejectsWalkInAndMissing(t *testing.T) {
	s := memory.New()
	l := New(s, nil)
	ctx := context.Background()

	_, err := l.AdjustBalance(ctx, domain.WalkInCustomerID, decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrWalkInCustomer)

	_, err = l.AdjustBalance(ctx, 404, decimal.NewFromInt(1))
	require.ErrorIs(t, err, store.ErrNotFound)
}
