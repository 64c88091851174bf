package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"kasirinaja/register/internal/domain"
)

// ProductCache holds product rows for the lookup screen. Stock figures in a
// cached row may be stale; checkout always re-reads under lock.
type ProductCache interface {
	Get(ctx context.Context, id int64) (*domain.Product, bool, error)
	Set(ctx context.Context, product *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, ids ...int64) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ int64) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ ...int64) error {
	return nil
}

// Loader reads through a ProductCache. Concurrent misses for the same id
// share one load. Cache errors are logged and never fail a lookup.
type Loader struct {
	cache  ProductCache
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewLoader(c ProductCache, ttl time.Duration, logger *slog.Logger) *Loader {
	if c == nil {
		c = NoopProductCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cache: c, ttl: ttl, logger: logger}
}

func (l *Loader) Product(ctx context.Context, id int64, load func(ctx context.Context, id int64) (*domain.Product, error)) (*domain.Product, error) {
	cached, ok, err := l.cache.Get(ctx, id)
	if err != nil {
		l.logger.Warn("product cache read failed", slog.Int64("product_id", id), slog.Any("error", err))
	}
	if ok {
		return cached, nil
	}

	ch := l.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		p, err := load(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(context.WithoutCancel(ctx), p, l.ttl); err != nil {
			l.logger.Warn("product cache write failed", slog.Int64("product_id", id), slog.Any("error", err))
		}
		return p, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := *res.Val.(*domain.Product)
		return &p, nil
	}
}

func (l *Loader) Invalidate(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		l.group.Forget(strconv.FormatInt(id, 10))
	}
	if err := l.cache.Invalidate(ctx, ids...); err != nil {
		l.logger.Warn("product cache invalidation failed", slog.Any("product_ids", ids), slog.Any("error", err))
	}
}
