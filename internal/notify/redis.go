package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"delivery-zone/internal/logger"
)

const DefaultRedisChannel = "delivery:settings:changed"

// 文档注释：基于 Redis Pub/Sub 的跨进程通知
// 背景：本进程发布先走本地总线，再广播到频道；收到的频道消息中 origin 为本进程的跳过，其余转本地总线。
// 约束：Redis 断线期间的消息会丢失，订阅方由快照 TTL 兜底。
type Redis struct {
	*Local
	rc      *redis.Client
	ps      *redis.PubSub
	channel string
	origin  string
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRedis(ctx context.Context, rc *redis.Client, channel string) (*Redis, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	ps := rc.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		Local:   NewLocal(),
		rc:      rc,
		ps:      ps,
		channel: channel,
		origin:  uuid.NewString(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.loop(lctx)
	logger.L().Info("notify_redis_ready", "channel", channel, "origin", r.origin)
	return r, nil
}

func (r *Redis) loop(ctx context.Context) {
	defer close(r.done)
	ch := r.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				logger.L().Error("notify_redis_decode_error", "err", err)
				continue
			}
			if ev.Origin == r.origin {
				continue
			}
			logger.L().Debug("notify_redis_recv", "key", ev.Key, "origin", ev.Origin)
			_ = r.Local.Publish(ctx, ev)
		}
	}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	ev.Origin = r.origin
	if err := r.Local.Publish(ctx, ev); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, b).Err()
}

func (r *Redis) Close() error {
	r.cancel()
	err := r.ps.Close()
	<-r.done
	_ = r.Local.Close()
	return err
}
