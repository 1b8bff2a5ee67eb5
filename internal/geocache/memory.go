package geocache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"delivery-zone/internal/logger"
)

// Memory：进程内 TTL 缓存
type Memory struct {
	c *ttlcache.Cache[string, Entry]
}

// NewMemory：ttl<=0 时使用 DefaultTTL；capacity=0 表示不限容量
func NewMemory(ttl time.Duration, capacity uint64) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := []ttlcache.Option[string, Entry]{ttlcache.WithTTL[string, Entry](ttl)}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, Entry](capacity))
	}
	c := ttlcache.New[string, Entry](opts...)
	go c.Start()
	return &Memory{c: c}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool) {
	it := m.c.Get(key)
	if it == nil {
		return Entry{}, false
	}
	return it.Value(), true
}

func (m *Memory) Set(_ context.Context, e Entry) {
	m.c.Set(e.NormalizedAddress, e, ttlcache.DefaultTTL)
}

func (m *Memory) Purge(_ context.Context) error {
	n := m.c.Len()
	m.c.DeleteAll()
	logger.L().Info("geocache_memory_purged", "entries", n)
	return nil
}

func (m *Memory) Len() int { return m.c.Len() }

// Close：停止过期清理协程
func (m *Memory) Close() { m.c.Stop() }
