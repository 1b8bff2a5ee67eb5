package geocache

import (
	"context"
	"errors"

	"delivery-zone/internal/metrics"
)

// Chain：按顺序查找多层缓存，命中较后层时回填较前层；Set 与 Purge 作用于全部层
type Chain struct {
	tiers []Cache
}

func NewChain(tiers ...Cache) *Chain {
	c := &Chain{}
	for _, t := range tiers {
		if t != nil {
			c.tiers = append(c.tiers, t)
		}
	}
	return c
}

func (c *Chain) Get(ctx context.Context, key string) (Entry, bool) {
	for i, t := range c.tiers {
		if e, ok := t.Get(ctx, key); ok {
			for j := 0; j < i; j++ {
				c.tiers[j].Set(ctx, e)
			}
			metrics.GeocodeCacheHitsTotal.Inc()
			return e, true
		}
	}
	metrics.GeocodeCacheMissesTotal.Inc()
	return Entry{}, false
}

func (c *Chain) Set(ctx context.Context, e Entry) {
	for _, t := range c.tiers {
		t.Set(ctx, e)
	}
}

// Purge：清空全部层；某层失败不影响其他层，错误合并返回
func (c *Chain) Purge(ctx context.Context) error {
	metrics.GeocodeCachePurgesTotal.Inc()
	var errs []error
	for _, t := range c.tiers {
		if err := t.Purge(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
