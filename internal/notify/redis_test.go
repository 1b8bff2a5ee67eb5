package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRedisPair：同一 Redis 上的两个通知实例，模拟两个服务进程
func newRedisPair(t *testing.T) (*Redis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	ctx := context.Background()
	open := func() *Redis {
		rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rc.Close() })
		n, err := NewRedis(ctx, rc, "test:settings")
		require.NoError(t, err)
		t.Cleanup(func() { _ = n.Close() })
		return n
	}
	return open(), open()
}

func TestRedis_ForwardsRemoteEvents(t *testing.T) {
	a, b := newRedisPair(t)
	var rec recorder
	a.Subscribe("deliverySettings", rec.handle)

	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Publish(context.Background(), Event{Key: "deliverySettings", UpdatedAt: at}))

	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := rec.events()[0]
	assert.Equal(t, "deliverySettings", ev.Key)
	assert.True(t, at.Equal(ev.UpdatedAt))
	assert.Equal(t, b.origin, ev.Origin)
}

func TestRedis_OwnEventDeliveredOnce(t *testing.T) {
	a, b := newRedisPair(t)
	var own, remote recorder
	a.Subscribe("deliveryZones", own.handle)
	b.Subscribe("deliveryZones", remote.handle)

	require.NoError(t, a.Publish(context.Background(), Event{Key: "deliveryZones", UpdatedAt: time.Now()}))

	// b 收到说明频道消息已广播，a 的回环副本此时也已到达并被过滤
	require.Eventually(t, func() bool { return len(remote.events()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, own.events(), 1)
	assert.Len(t, remote.events(), 1)
}

func TestRedis_OtherKeysIgnored(t *testing.T) {
	a, b := newRedisPair(t)
	var rec recorder
	a.Subscribe("deliveryZones", rec.handle)

	require.NoError(t, b.Publish(context.Background(), Event{Key: "deliverySettings", UpdatedAt: time.Now()}))
	require.NoError(t, b.Publish(context.Background(), Event{Key: "deliveryZones", UpdatedAt: time.Now()}))

	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "deliveryZones", rec.events()[0].Key)
	assert.Len(t, rec.events(), 1)
}
