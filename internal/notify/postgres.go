package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"delivery-zone/internal/logger"
)

// 与 migrate 中触发器使用的频道一致
const DefaultPostgresChannel = "settings_changed"

// 文档注释：基于 PostgreSQL LISTEN/NOTIFY 的跨进程通知
// 背景：settings 表上的触发器在提交时 pg_notify，任何写入方（服务、控制台、脚本）都会被广播；
// 本进程发布只投递本地总线，远端事件由触发器产生。
// 约束：连接重建后无法得知断线期间的变更，为每个已订阅 key 补发一次合成事件促使订阅方重读。
type Postgres struct {
	*Local
	listener *pq.Listener
	channel  string
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPostgres(dsn, channel string) (*Postgres, error) {
	if channel == "" {
		channel = DefaultPostgresChannel
	}
	l := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.L().Error("notify_pg_listener_event", "event", int(ev), "err", err)
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Postgres{Local: NewLocal(), listener: l, channel: channel, cancel: cancel, done: make(chan struct{})}
	go p.loop(ctx)
	logger.L().Info("notify_pg_ready", "channel", channel)
	return p, nil
}

func (p *Postgres) loop(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-p.listener.Notify:
			if !ok {
				return
			}
			p.handle(ctx, n)
		case <-time.After(90 * time.Second):
			go func() { _ = p.listener.Ping() }()
		}
	}
}

// handle：nil 通知表示连接已重建
func (p *Postgres) handle(ctx context.Context, n *pq.Notification) {
	if n == nil {
		logger.L().Info("notify_pg_reconnected")
		p.resync(ctx)
		return
	}
	ev, err := decodePayload(n.Extra)
	if err != nil {
		logger.L().Error("notify_pg_decode_error", "err", err, "payload", n.Extra)
		return
	}
	logger.L().Debug("notify_pg_recv", "key", ev.Key, "pid", n.BePid)
	_ = p.Local.Publish(ctx, ev)
}

func (p *Postgres) resync(ctx context.Context) {
	now := time.Now().UTC()
	for _, k := range p.Local.Keys() {
		_ = p.Local.Publish(ctx, Event{Key: k, UpdatedAt: now, Origin: "resync"})
	}
}

func (p *Postgres) Close() error {
	p.cancel()
	<-p.done
	err := p.listener.Close()
	_ = p.Local.Close()
	return err
}

func decodePayload(s string) (Event, error) {
	var ev Event
	err := json.Unmarshal([]byte(s), &ev)
	return ev, err
}
