package notify

import (
	"context"
	"errors"
	"sync"

	"delivery-zone/internal/logger"
	"delivery-zone/internal/metrics"
)

var ErrClosed = errors.New("notifier closed")

const defaultQueueSize = 64

type subscriber struct {
	key  string
	h    Handler
	ch   chan Event
	done chan struct{}
}

// 文档注释：进程内通知总线
// 背景：每个订阅者一个有界队列与一个投递协程，发布方不被慢订阅者阻塞；同一订阅者内按入队顺序串行回调。
// 约束：队列满时丢弃事件并计数；回调 panic 被恢复并记录，不影响后续事件。
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	queue  int
	closed bool
}

func NewLocal() *Local { return NewLocalWithQueue(defaultQueueSize) }

func NewLocalWithQueue(n int) *Local {
	if n <= 0 {
		n = defaultQueueSize
	}
	return &Local{subs: make(map[string]map[uint64]*subscriber), queue: n}
}

func (l *Local) Subscribe(key string, h Handler) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	s := &subscriber{key: key, h: h, ch: make(chan Event, l.queue), done: make(chan struct{})}
	if l.closed {
		close(s.ch)
	} else {
		if l.subs[key] == nil {
			l.subs[key] = make(map[uint64]*subscriber)
		}
		l.subs[key][id] = s
	}
	go s.run()
	return Subscription{key: key, id: id}
}

// Unsubscribe：移除订阅；已入队的事件仍会投递完毕
func (l *Local) Unsubscribe(sub Subscription) {
	l.mu.Lock()
	s, ok := l.subs[sub.key][sub.id]
	if ok {
		delete(l.subs[sub.key], sub.id)
		if len(l.subs[sub.key]) == 0 {
			delete(l.subs, sub.key)
		}
		close(s.ch)
	}
	l.mu.Unlock()
}

// Publish：入队到该 key 的全部订阅者；不等待回调执行
func (l *Local) Publish(ctx context.Context, ev Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	metrics.NotifyPublishedTotal.WithLabelValues(ev.Key).Inc()
	for _, s := range l.subs[ev.Key] {
		select {
		case s.ch <- ev:
		default:
			metrics.NotifyDroppedTotal.WithLabelValues(ev.Key).Inc()
			logger.L().Warn("notify_drop", "key", ev.Key, "reason", "queue_full")
		}
	}
	return nil
}

// Keys：当前有订阅者的 key
func (l *Local) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.subs))
	for k := range l.subs {
		out = append(out, k)
	}
	return out
}

func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	var all []*subscriber
	for _, m := range l.subs {
		for _, s := range m {
			close(s.ch)
			all = append(all, s)
		}
	}
	l.subs = make(map[string]map[uint64]*subscriber)
	l.mu.Unlock()
	for _, s := range all {
		<-s.done
	}
	return nil
}

func (s *subscriber) run() {
	defer close(s.done)
	for ev := range s.ch {
		s.call(ev)
	}
}

func (s *subscriber) call(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("notify_handler_panic", "key", ev.Key, "panic", r)
		}
	}()
	s.h(ev)
}
