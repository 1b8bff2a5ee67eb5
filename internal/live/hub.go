// 包 live：店面端设置变更推送（WebSocket）
// 约束：连接建立后先推送各 key 的当前公开视图，之后每次变更推送一条；发送队列满的慢客户端直接断开，
// 由客户端重连后重新获取快照。
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"delivery-zone/internal/logger"
	"delivery-zone/internal/metrics"
	"delivery-zone/internal/notify"
	"delivery-zone/internal/settings"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueue      = 16
)

// Message：推送给店面端的一条设置
type Message struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Reader：*settings.Store 满足
type Reader interface {
	Snapshot(ctx context.Context, key string) (*settings.Snapshot, error)
	Refresh(ctx context.Context, key string) (*settings.Snapshot, error)
}

// client：ready 之前广播暂存在 pending，快照入队后再按 UpdatedAt 过滤补发
type client struct {
	conn   *websocket.Conn
	remote string
	send   chan Message
	once   sync.Once

	ready   bool
	pending []Message
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

// Hub：连接集合与广播
type Hub struct {
	reader   Reader
	keys     []string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    []notify.Subscription
	n       notify.Notifier
}

func NewHub(r Reader, keys ...string) *Hub {
	return &Hub{
		reader: r,
		keys:   keys,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   maxMessageSize,
			WriteBufferSize:  maxMessageSize,
			HandshakeTimeout: writeWait,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Watch：订阅全部 key 的变更并广播
func (h *Hub) Watch(n notify.Notifier) {
	h.n = n
	for _, k := range h.keys {
		h.subs = append(h.subs, n.Subscribe(k, h.onChange))
	}
}

func (h *Hub) onChange(ev notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	snap, err := h.reader.Refresh(ctx, ev.Key)
	if err != nil {
		logger.L().Warn("live_refresh_error", "key", ev.Key, "err", err)
		return
	}
	msg, err := message("changed", snap)
	if err != nil {
		logger.L().Warn("live_encode_error", "key", ev.Key, "err", err)
		return
	}
	h.Broadcast(msg)
}

func message(typ string, snap *settings.Snapshot) (Message, error) {
	v, err := settings.PublicValue(snap.Key, snap.Value)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Key: snap.Key, Value: v, UpdatedAt: snap.UpdatedAt}, nil
}

// Broadcast：非阻塞投递；队列已满的客户端被断开
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.ready {
			if len(c.pending) >= sendQueue {
				logger.L().Warn("live_client_slow", "remote", c.remote)
				h.removeLocked(c)
				continue
			}
			c.pending = append(c.pending, msg)
			continue
		}
		select {
		case c.send <- msg:
		default:
			logger.L().Warn("live_client_slow", "remote", c.remote)
			h.removeLocked(c)
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	metrics.LiveClients.Dec()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// Count：当前连接数
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close：取消订阅并断开全部连接
func (h *Hub) Close() {
	if h.n != nil {
		for _, s := range h.subs {
			h.n.Unsubscribe(s)
		}
		h.subs = nil
	}
	h.mu.Lock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
}

// ServeHTTP：先登记连接再读取快照，快照读取期间的变更不会丢失；推送快照后进入读写循环
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &client{remote: r.RemoteAddr, send: make(chan Message, sendQueue+len(h.keys))}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.LiveClients.Inc()

	initial := make([]Message, 0, len(h.keys))
	for _, k := range h.keys {
		snap, err := h.reader.Snapshot(r.Context(), k)
		if err != nil {
			h.remove(c)
			logger.L().Error("live_snapshot_error", "key", k, "err", err)
			http.Error(w, "settings unavailable", http.StatusBadGateway)
			return
		}
		msg, err := message("snapshot", snap)
		if err != nil {
			h.remove(c)
			http.Error(w, "settings unavailable", http.StatusInternalServerError)
			return
		}
		initial = append(initial, msg)
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.remove(c)
		logger.L().Warn("live_upgrade_error", "err", err)
		return
	}
	c.conn = conn
	if !h.activate(c, initial) {
		conn.Close()
		return
	}
	logger.L().Debug("live_client_connected", "remote", c.remote)
	go h.writePump(c)
	h.readPump(c)
}

// activate：入队快照，再补发暂存的、比快照新的变更；连接已被移除时返回 false
func (h *Hub) activate(c *client, initial []Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	seen := make(map[string]time.Time, len(initial))
	for _, m := range initial {
		c.send <- m
		seen[m.Key] = m.UpdatedAt
	}
	for _, m := range c.pending {
		if m.UpdatedAt.After(seen[m.Key]) {
			c.send <- m
			seen[m.Key] = m.UpdatedAt
		}
	}
	c.pending = nil
	c.ready = true
	return true
}

// readPump：只处理控制帧与关闭；店面端不发送业务消息
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().Debug("live_read_error", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.L().Debug("live_write_error", "err", err)
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
