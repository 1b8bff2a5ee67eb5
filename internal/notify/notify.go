// 包 notify：设置变更的发布/订阅通道
// 约束：同一 key 的事件按提交顺序投递，不同 key 之间无顺序保证；至少一次投递，
// 投递失败（订阅者队列已满）只记录日志与计数，订阅者依赖下一次显式读取兜底。
package notify

import (
	"context"
	"time"
)

// Event：某个设置 key 已变更
type Event struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updatedAt"`
	Origin    string    `json:"origin,omitempty"`
}

type Handler func(Event)

// Subscription：Subscribe 返回的句柄，用于 Unsubscribe
type Subscription struct {
	key string
	id  uint64
}

type Notifier interface {
	Subscribe(key string, h Handler) Subscription
	Unsubscribe(sub Subscription)
	Publish(ctx context.Context, ev Event) error
	Close() error
}
