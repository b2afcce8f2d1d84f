package health

import (
	"context"
	"testing"

	"autotg/internal/model"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBufferDedupe(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer()
	require.NoError(t, b.Push(ctx, model.Order{OrderID: "a"}))
	require.NoError(t, b.Push(ctx, model.Order{OrderID: "a"}))
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisBufferRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := NewRedisBuffer(rdb)

	first := model.Order{
		OrderID:     "o1",
		BuyerID:     "b1",
		ChatID:      "c1",
		Description: "tg:KZ",
		Quantity:    2,
		UnitPrice:   decimal.RequireFromString("75.5"),
		TotalPrice:  decimal.RequireFromString("151"),
		Status:      model.OrderStatusPaid,
	}
	require.NoError(t, b.Push(ctx, first))
	require.NoError(t, b.Push(ctx, first))
	require.NoError(t, b.Push(ctx, model.Order{OrderID: "o2", BuyerID: "b2"}))

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok, err := b.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "o1", got.OrderID)
	assert.Equal(t, 2, got.Quantity)
	assert.True(t, got.TotalPrice.Equal(first.TotalPrice))

	got, ok, err = b.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "o2", got.OrderID)

	_, ok, err = b.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// 出队后可再次延后
	require.NoError(t, b.Push(ctx, first))
	n, _ = b.Len(ctx)
	assert.Equal(t, 1, n)
}
