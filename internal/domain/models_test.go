package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailedTransactionCanRetryStopsAtCeiling(t *testing.T) {
	failed := FailedTransaction{State: FailedStateFailed, RetryCount: MaxRetryCount - 1}
	assert.True(t, failed.CanRetry())

	failed.RetryCount = MaxRetryCount
	assert.False(t, failed.CanRetry())

	failed.RetryCount = 0
	failed.State = FailedStateRetrying
	assert.False(t, failed.CanRetry())
}

func TestLineTotalNeverNegative(t *testing.T) {
	line := CartLine{
		Quantity:  decimal.RequireFromString("2"),
		UnitPrice: decimal.RequireFromString("10.00"),
		Discount:  decimal.RequireFromString("25.00"),
	}
	assert.True(t, line.LineTotal().IsZero())

	line.Discount = decimal.RequireFromString("1.50")
	assert.Equal(t, "18.5", line.LineTotal().String())
}

func TestBoxesFloorsFractionalQuantity(t *testing.T) {
	line := CartLine{Quantity: decimal.RequireFromString("2.7"), IsBox: true}
	assert.Equal(t, "2", line.Boxes().String())
}

func TestCartSnapshotSurvivesSerialization(t *testing.T) {
	lines := []CartLine{
		{ProductID: 11, ProductName: "Teh Botol", Quantity: decimal.RequireFromString("3"), UnitPrice: decimal.RequireFromString("4500.25")},
		{ProductID: 12, ProductName: "Gula 1kg", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.RequireFromString("17400"), Discount: decimal.RequireFromString("100"), IsBox: true},
	}
	failed := FailedTransaction{Items: SnapshotCart(lines), State: FailedStateFailed}

	payload, err := json.Marshal(failed)
	require.NoError(t, err)

	var decoded FailedTransaction
	require.NoError(t, json.Unmarshal(payload, &decoded))

	restored := decoded.CartLines()
	require.Len(t, restored, len(lines))
	for i := range lines {
		assert.Equal(t, lines[i].ProductID, restored[i].ProductID)
		assert.True(t, lines[i].Quantity.Equal(restored[i].Quantity))
		assert.True(t, lines[i].UnitPrice.Equal(restored[i].UnitPrice))
		assert.True(t, lines[i].Discount.Equal(restored[i].Discount))
		assert.Equal(t, lines[i].IsBox, restored[i].IsBox)
	}
}

func TestDrawerExpectedBalance(t *testing.T) {
	drawer := Drawer{
		OpeningBalance: decimal.RequireFromString("100"),
		NetCashFlow:    decimal.RequireFromString("-12.5"),
	}
	assert.Equal(t, "87.5", drawer.ExpectedBalance().String())
}
