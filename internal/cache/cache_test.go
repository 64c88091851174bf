package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/register/internal/domain"
)

func newRedisCache(t *testing.T) (*RedisProductCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisProductCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisProductCacheRoundTrip(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	p := &domain.Product{ID: 1, Name: "Gula 1kg", SalePrice: decimal.RequireFromString("15500.50"), CurrentStock: decimal.RequireFromString("2.5")}
	require.NoError(t, c.Set(ctx, p, time.Minute))
	assert.True(t, mr.Exists("register:product:1"))

	got, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Gula 1kg", got.Name)
	assert.True(t, p.SalePrice.Equal(got.SalePrice))
	assert.True(t, p.CurrentStock.Equal(got.CurrentStock))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisProductCacheInvalidate(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, &domain.Product{ID: 1}, 0))
	require.NoError(t, c.Set(ctx, &domain.Product{ID: 2}, 0))

	require.NoError(t, c.Invalidate(ctx, 1, 2, 3))
	assert.False(t, mr.Exists("register:product:1"))
	assert.False(t, mr.Exists("register:product:2"))
	require.NoError(t, c.Invalidate(ctx))
}

func TestLoaderReadsThroughAndInvalidates(t *testing.T) {
	c, _ := newRedisCache(t)
	l := NewLoader(c, time.Minute, nil)
	ctx := context.Background()

	var calls atomic.Int32
	load := func(_ context.Context, id int64) (*domain.Product, error) {
		calls.Add(1)
		return &domain.Product{ID: id, Name: "Teh"}, nil
	}

	for n := 0; n < 3; n++ {
		p, err := l.Product(ctx, 5, load)
		require.NoError(t, err)
		assert.Equal(t, "Teh", p.Name)
	}
	assert.EqualValues(t, 1, calls.Load())

	l.Invalidate(ctx, 5)
	_, err := l.Product(ctx, 5, load)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestLoaderCollapsesConcurrentMisses(t *testing.T) {
	l := NewLoader(NoopProductCache{}, time.Minute, nil)
	ctx := context.Background()

	release := make(chan struct{})
	var calls atomic.Int32
	load := func(_ context.Context, id int64) (*domain.Product, error) {
		calls.Add(1)
		<-release
		return &domain.Product{ID: id}, nil
	}

	var wg sync.WaitGroup
	results := make([]*domain.Product, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = l.Product(ctx, 9, load)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, p := range results {
		require.NotNil(t, p)
		assert.EqualValues(t, 9, p.ID)
	}
}

func TestLoaderSurvivesCacheOutage(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.Close()
	l := NewLoader(c, time.Minute, nil)

	p, err := l.Product(context.Background(), 3, func(_ context.Context, id int64) (*domain.Product, error) {
		return &domain.Product{ID: id, Name: "Kopi"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Kopi", p.Name)
}

func TestLoaderPropagatesLoadError(t *testing.T) {
	l := NewLoader(nil, time.Minute, nil)
	boom := errors.New("boom")
	_, err := l.Product(context.Background(), 1, func(context.Context, int64) (*domain.Product, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}
