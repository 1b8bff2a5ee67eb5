package geocache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(addr string) Entry {
	return Entry{NormalizedAddress: addr, Lat: 45.0711, Lng: 7.6858, FormattedAddress: addr, ResolvedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "via roma 1, torino", Normalize("  Via   Roma 1,\tTORINO \n"))
	assert.Equal(t, "", Normalize("   "))
	assert.Equal(t, Normalize("Piazza Castello"), Normalize("piazza  castello "))
}

func TestMemory_SetGetPurge(t *testing.T) {
	m := NewMemory(time.Hour, 0)
	defer m.Close()
	ctx := context.Background()

	_, ok := m.Get(ctx, "via roma 1")
	assert.False(t, ok)
	m.Set(ctx, entry("via roma 1"))
	e, ok := m.Get(ctx, "via roma 1")
	require.True(t, ok)
	assert.Equal(t, 45.0711, e.Lat)

	require.NoError(t, m.Purge(ctx))
	_, ok = m.Get(ctx, "via roma 1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_Expires(t *testing.T) {
	m := NewMemory(20*time.Millisecond, 0)
	defer m.Close()
	m.Set(context.Background(), entry("a"))
	time.Sleep(50 * time.Millisecond)
	_, ok := m.Get(context.Background(), "a")
	assert.False(t, ok)
}

type mapCache struct {
	m        map[string]Entry
	purgeErr error
	purged   int
}

func newMapCache() *mapCache { return &mapCache{m: map[string]Entry{}} }

func (c *mapCache) Get(_ context.Context, k string) (Entry, bool) {
	e, ok := c.m[k]
	return e, ok
}

func (c *mapCache) Set(_ context.Context, e Entry) { c.m[e.NormalizedAddress] = e }
func (c *mapCache) Purge(context.Context) error {
	c.purged++
	c.m = map[string]Entry{}
	return c.purgeErr
}

func TestChain_BackfillsEarlierTier(t *testing.T) {
	near, far := newMapCache(), newMapCache()
	far.Set(context.Background(), entry("a"))
	c := NewChain(near, nil, far)

	_, ok := c.Get(context.Background(), "a")
	require.True(t, ok)
	_, ok = near.m["a"]
	assert.True(t, ok)

	_, ok = c.Get(context.Background(), "b")
	assert.False(t, ok)
}

func TestChain_PurgeAllTiersEvenOnError(t *testing.T) {
	near, far := newMapCache(), newMapCache()
	near.purgeErr = errors.New("boom")
	c := NewChain(near, far)
	c.Set(context.Background(), entry("a"))

	err := c.Purge(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, near.purged)
	assert.Equal(t, 1, far.purged)
	assert.Empty(t, far.m)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, NewRedis(rc, "geotest", time.Minute)
}

func TestRedis_SetGet(t *testing.T) {
	mr, r := newTestRedis(t)
	ctx := context.Background()

	_, ok := r.Get(ctx, "via roma 1")
	assert.False(t, ok)
	r.Set(ctx, entry("via roma 1"))
	e, ok := r.Get(ctx, "via roma 1")
	require.True(t, ok)
	assert.Equal(t, "via roma 1", e.NormalizedAddress)
	assert.Equal(t, 7.6858, e.Lng)
	assert.True(t, mr.Exists("geotest:0:via roma 1"))
	assert.Equal(t, time.Minute, mr.TTL("geotest:0:via roma 1"))
}

func TestRedis_PurgeBumpsGeneration(t *testing.T) {
	mr, r := newTestRedis(t)
	ctx := context.Background()
	r.Set(ctx, entry("via roma 1"))

	require.NoError(t, r.Purge(ctx))
	v, err := mr.Get("geotest:gen")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, ok := r.Get(ctx, "via roma 1")
	assert.False(t, ok)
	// 旧代的键保留到 TTL 过期，但不再被读取
	assert.True(t, mr.Exists("geotest:0:via roma 1"))

	r.Set(ctx, entry("via roma 1"))
	_, ok = r.Get(ctx, "via roma 1")
	assert.True(t, ok)
	assert.True(t, mr.Exists("geotest:1:via roma 1"))
}

func TestRedis_PurgeSeenByOtherInstance(t *testing.T) {
	mr, a := newTestRedis(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	b := NewRedis(rc, "geotest", time.Minute)
	ctx := context.Background()

	a.Set(ctx, entry("via po 2"))
	_, ok := b.Get(ctx, "via po 2")
	require.True(t, ok)

	require.NoError(t, a.Purge(ctx))
	_, ok = b.Get(ctx, "via po 2")
	assert.False(t, ok)
}

func TestRedis_ExpiresAfterTTL(t *testing.T) {
	mr, r := newTestRedis(t)
	ctx := context.Background()
	r.Set(ctx, entry("a"))
	mr.FastForward(2 * time.Minute)
	_, ok := r.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedis_FailureIsMiss(t *testing.T) {
	mr, r := newTestRedis(t)
	ctx := context.Background()
	r.Set(ctx, entry("a"))
	mr.Close()

	_, ok := r.Get(ctx, "a")
	assert.False(t, ok)
	assert.Error(t, r.Purge(ctx))
}
