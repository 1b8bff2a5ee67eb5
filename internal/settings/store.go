// 包 settings：配置存储（ConfigStore），读取时把存储值合并到编译期默认值上
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"delivery-zone/internal/logger"
	"delivery-zone/internal/metrics"
	"delivery-zone/internal/model"
	"delivery-zone/internal/notify"
	"delivery-zone/internal/zone"
)

var (
	// ErrTransport：存储不可达；调用方可选择使用默认值或上抛，不得伪造数据
	ErrTransport = errors.New("settings store unavailable")
	// ErrInvalid：存储值无法解析为对应结构
	ErrInvalid = errors.New("invalid setting value")
	// ErrSuperseded：并发写入中本次写入的 updatedAt 较旧，已被更新的写入覆盖
	ErrSuperseded = errors.New("setting write superseded by a newer write")
)

const DefaultSnapshotTTL = 30 * time.Second

// Setting：一条持久化设置
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Backend：持久化层契约
// UpsertSetting 以 key 唯一性做原子插入或更新，updatedAt 较旧的写入返回 ErrSuperseded。
type Backend interface {
	GetSetting(ctx context.Context, key string) (Setting, bool, error)
	UpsertSetting(ctx context.Context, s Setting) (Setting, error)
	InsertSettingIfAbsent(ctx context.Context, s Setting) error
}

// Snapshot：某 key 的合并视图，不可变；替换而非修改
type Snapshot struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
	Stored    bool
	loadedAt  time.Time
}

type snapshots map[string]*Snapshot

// 文档注释：配置存储
// 背景：读路径优先使用进程内快照（atomic.Pointer 整表替换），超过 TTL 或收到变更通知后回源；
// 写路径直接写后端并同步替换本进程快照，随后发布变更事件。
// 约束：Get 不会返回“未找到”，仅在后端不可达时返回 ErrTransport。
type Store struct {
	backend  Backend
	notifier notify.Notifier
	defaults map[string]json.RawMessage
	ttl      time.Duration
	now      func() time.Time

	snaps   atomic.Pointer[snapshots]
	swapMu  sync.Mutex
	writeMu sync.Mutex
	subs    []notify.Subscription
}

type Option func(*Store)

func WithNotifier(n notify.Notifier) Option { return func(s *Store) { s.notifier = n } }

func WithSnapshotTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithDefault：覆盖或追加某 key 的编译期默认值
func WithDefault(key string, v any) Option {
	return func(s *Store) {
		b, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("settings: default for %q: %v", key, err))
		}
		s.defaults[key] = b
	}
}

func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend:  b,
		defaults: make(map[string]json.RawMessage),
		ttl:      DefaultSnapshotTTL,
		now:      time.Now,
	}
	WithDefault(model.KeyDeliverySettings, model.DefaultDeliverySettings)(s)
	WithDefault(model.KeyDeliveryZones, model.DefaultDeliveryZones)(s)
	for _, o := range opts {
		o(s)
	}
	empty := snapshots{}
	s.snaps.Store(&empty)
	if s.notifier != nil {
		for k := range s.defaults {
			s.subs = append(s.subs, s.notifier.Subscribe(k, s.onChange))
		}
	}
	return s
}

// Close：取消变更订阅；不关闭 notifier 与后端
func (s *Store) Close() {
	if s.notifier == nil {
		return
	}
	for _, sub := range s.subs {
		s.notifier.Unsubscribe(sub)
	}
	s.subs = nil
}

// Get：合并视图
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	snap, err := s.Snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	return snap.Value, nil
}

// Snapshot：未过期的快照直接返回，否则回源
func (s *Store) Snapshot(ctx context.Context, key string) (*Snapshot, error) {
	if cur := (*s.snaps.Load())[key]; cur != nil && s.now().Sub(cur.loadedAt) < s.ttl {
		metrics.SettingsReadsTotal.WithLabelValues(key, "snapshot").Inc()
		return cur, nil
	}
	return s.Refresh(ctx, key)
}

// Refresh：强制读取后端并替换快照
// 约束：后端无记录时以默认值建行（尽力而为，失败只记录日志）
func (s *Store) Refresh(ctx context.Context, key string) (*Snapshot, error) {
	metrics.SettingsReadsTotal.WithLabelValues(key, "backend").Inc()
	st, found, err := s.backend.GetSetting(ctx, key)
	if err != nil {
		logger.L().Error("settings_read_error", "key", key, "err", err)
		return nil, fmt.Errorf("%w: get %s: %w", ErrTransport, key, err)
	}
	def := s.defaults[key]
	if !found && def != nil {
		seed := Setting{Key: key, Value: def, UpdatedAt: s.stamp()}
		if err := s.backend.InsertSettingIfAbsent(ctx, seed); err != nil {
			logger.L().Warn("settings_seed_error", "key", key, "err", err)
		} else {
			logger.L().Info("settings_seeded", "key", key)
		}
	}
	merged, err := Merge(def, st.Value)
	if err != nil {
		logger.L().Error("settings_merge_error", "key", key, "err", err)
		return nil, invalidFor(key, err)
	}
	snap := &Snapshot{Key: key, Value: merged, UpdatedAt: st.UpdatedAt, Stored: found, loadedAt: s.now()}
	if cur := s.swap(snap, true); cur != snap {
		// 读取期间已有更新的写入替换了快照
		return cur, nil
	}
	logger.L().Debug("settings_refreshed", "key", key, "stored", found, "updated_at", st.UpdatedAt)
	return snap, nil
}

// 文档注释：写入设置
// 步骤：校验 JSON → 以当前时间（微秒精度，与 PostgreSQL 一致）盖戳 → 后端原子 upsert → 替换快照 → 发布事件。
// 约束：发布失败不回滚写入，只记录日志；订阅方依靠快照 TTL 兜底。
func (s *Store) Upsert(ctx context.Context, key string, value json.RawMessage) (Setting, error) {
	if !json.Valid(value) {
		metrics.SettingsUpsertsTotal.WithLabelValues(key, "invalid").Inc()
		return Setting{}, fmt.Errorf("%w: %s is not valid JSON", ErrInvalid, key)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, value); err != nil {
		return Setting{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	saved, err := s.backend.UpsertSetting(ctx, Setting{Key: key, Value: compact.Bytes(), UpdatedAt: s.stamp()})
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			metrics.SettingsUpsertsTotal.WithLabelValues(key, "superseded").Inc()
			logger.L().Warn("settings_upsert_superseded", "key", key)
			return Setting{}, err
		}
		metrics.SettingsUpsertsTotal.WithLabelValues(key, "error").Inc()
		logger.L().Error("settings_upsert_error", "key", key, "err", err)
		return Setting{}, fmt.Errorf("%w: upsert %s: %w", ErrTransport, key, err)
	}
	metrics.SettingsUpsertsTotal.WithLabelValues(key, "ok").Inc()
	if merged, err := Merge(s.defaults[key], saved.Value); err == nil {
		s.swap(&Snapshot{Key: key, Value: merged, UpdatedAt: saved.UpdatedAt, Stored: true, loadedAt: s.now()}, false)
	} else {
		s.drop(key)
	}
	logger.L().Info("settings_upsert_ok", "key", key, "updated_at", saved.UpdatedAt)
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, notify.Event{Key: key, UpdatedAt: saved.UpdatedAt}); err != nil {
			logger.L().Warn("settings_notify_error", "key", key, "err", err)
		}
	}
	return saved, nil
}

// Preview：把待写入的值合并到默认值上，返回写入后读取将得到的视图（不写入）
func (s *Store) Preview(key string, value json.RawMessage) (json.RawMessage, error) {
	return Merge(s.defaults[key], value)
}

// Known：key 是否有编译期默认值
func (s *Store) Known(key string) bool {
	_, ok := s.defaults[key]
	return ok
}

// DeliverySettings：类型化读取并校验
func (s *Store) DeliverySettings(ctx context.Context) (model.DeliverySettings, error) {
	raw, err := s.Get(ctx, model.KeyDeliverySettings)
	if err != nil {
		return model.DeliverySettings{}, err
	}
	return DecodeDeliverySettings(raw)
}

// DeliveryZones：类型化读取；区域表无效时返回 zone.ErrInvalidConfiguration，不做部分应用
func (s *Store) DeliveryZones(ctx context.Context) ([]model.DeliveryZone, error) {
	raw, err := s.Get(ctx, model.KeyDeliveryZones)
	if err != nil {
		return nil, err
	}
	return DecodeDeliveryZones(raw)
}

func DecodeDeliverySettings(raw json.RawMessage) (model.DeliverySettings, error) {
	var ds model.DeliverySettings
	if err := json.Unmarshal(raw, &ds); err != nil {
		return model.DeliverySettings{}, fmt.Errorf("%w: %s: %v", ErrInvalid, model.KeyDeliverySettings, err)
	}
	if err := ds.Validate(); err != nil {
		return model.DeliverySettings{}, err
	}
	return ds, nil
}

func DecodeDeliveryZones(raw json.RawMessage) ([]model.DeliveryZone, error) {
	var zs []model.DeliveryZone
	if err := json.Unmarshal(raw, &zs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", zone.ErrInvalidConfiguration, model.KeyDeliveryZones, err)
	}
	if _, err := zone.Validate(zs); err != nil {
		return nil, err
	}
	return zs, nil
}

// invalidFor：按 key 标注无法解析的存储值，区域表归入 zone.ErrInvalidConfiguration
func invalidFor(key string, err error) error {
	if key == model.KeyDeliveryZones {
		return fmt.Errorf("%w: merge %s: %w", zone.ErrInvalidConfiguration, key, err)
	}
	return fmt.Errorf("merge %s: %w", key, err)
}

// onChange：收到比当前快照更新的事件时丢弃快照，下次读取回源
func (s *Store) onChange(ev notify.Event) {
	cur := (*s.snaps.Load())[ev.Key]
	if cur != nil && !ev.UpdatedAt.After(cur.UpdatedAt) {
		return
	}
	s.drop(ev.Key)
	logger.L().Debug("settings_snapshot_invalidated", "key", ev.Key, "origin", ev.Origin)
}

// swap：写时复制替换快照表；ifNewer 时不以较旧的 UpdatedAt 覆盖已有快照
func (s *Store) swap(snap *Snapshot, ifNewer bool) *Snapshot {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	old := *s.snaps.Load()
	if cur := old[snap.Key]; ifNewer && cur != nil && cur.UpdatedAt.After(snap.UpdatedAt) {
		return cur
	}
	next := make(snapshots, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[snap.Key] = snap
	s.snaps.Store(&next)
	return snap
}

func (s *Store) drop(key string) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	old := *s.snaps.Load()
	if _, ok := old[key]; !ok {
		return
	}
	next := make(snapshots, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	s.snaps.Store(&next)
}

func (s *Store) stamp() time.Time { return s.now().UTC().Truncate(time.Microsecond) }
