// 包 quote：配送报价编排（设置读取 → 地理编码/缓存 → 距离 → 区域匹配）
package quote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"delivery-zone/internal/geo"
	"delivery-zone/internal/geocache"
	"delivery-zone/internal/geocode"
	"delivery-zone/internal/logger"
	"delivery-zone/internal/metrics"
	"delivery-zone/internal/model"
	"delivery-zone/internal/notify"
	"delivery-zone/internal/settings"
	"delivery-zone/internal/zone"
)

// SettingsReader：类型化设置读取，*settings.Store 满足
type SettingsReader interface {
	DeliverySettings(ctx context.Context) (model.DeliverySettings, error)
	DeliveryZones(ctx context.Context) ([]model.DeliveryZone, error)
}

// Geocoder：*geocode.Client 满足
type Geocoder interface {
	Resolve(ctx context.Context, address, apiKey string) geocode.Outcome
}

type refresher interface {
	Refresh(ctx context.Context, key string) (*settings.Snapshot, error)
}

// Result：报价结果
// 约束：Disabled=true 时其余字段无意义；WithinRange=false 时 Fee 无意义、Zone 为空。
type Result struct {
	Disabled            bool
	WithinRange         bool
	DistanceKm          float64
	Fee                 float64
	Zone                *model.DeliveryZone
	Implicit            bool
	FreeDeliveryApplied bool
	FormattedAddress    string
	CacheHit            bool
}

// reference：地理编码缓存所对应的餐厅参考点
type reference struct {
	address string
	point   geo.Point
}

func referenceOf(ds model.DeliverySettings) reference {
	return reference{address: geocache.Normalize(ds.RestaurantAddress), point: ds.ReferencePoint()}
}

// 文档注释：报价服务
// 背景：同一地址的并发地理编码经 singleflight 合并为一次外部调用；结果写入缓存。
// 约束：记录最近一次使用的餐厅参考点（地址+坐标），发现变化即清空地理编码缓存，
// 与变更通知互为兜底。
type Service struct {
	settings SettingsReader
	geocoder Geocoder
	cache    geocache.Cache
	apiKey   string
	now      func() time.Time
	timeout  time.Duration
	lookup   time.Duration

	sf  singleflight.Group
	ref atomic.Pointer[reference]
	sub *notify.Subscription
	n   notify.Notifier
}

type Option func(*Service)

// WithAPIKeyFallback：存储中未配置 geocodingApiKey 时使用的密钥
func WithAPIKeyFallback(k string) Option { return func(s *Service) { s.apiKey = k } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithWatchTimeout：变更回调中重新读取设置的超时
func WithWatchTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithLookupTimeout：共享地理编码调用（含全部重试）的总时限
func WithLookupTimeout(d time.Duration) Option { return func(s *Service) { s.lookup = d } }

func New(sr SettingsReader, g Geocoder, c geocache.Cache, opts ...Option) *Service {
	s := &Service{settings: sr, geocoder: g, cache: c, now: time.Now, timeout: 5 * time.Second, lookup: 20 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Watch：订阅 deliverySettings 变更；回调中强制回源并检查参考点
func (s *Service) Watch(n notify.Notifier) {
	sub := n.Subscribe(model.KeyDeliverySettings, s.onSettingsChanged)
	s.n = n
	s.sub = &sub
}

// Close：取消订阅
func (s *Service) Close() {
	if s.n != nil && s.sub != nil {
		s.n.Unsubscribe(*s.sub)
		s.sub = nil
	}
}

func (s *Service) onSettingsChanged(ev notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if r, ok := s.settings.(refresher); ok {
		if _, err := r.Refresh(ctx, model.KeyDeliverySettings); err != nil {
			logger.L().Warn("quote_watch_refresh_error", "err", err)
			return
		}
	}
	ds, err := s.settings.DeliverySettings(ctx)
	if err != nil {
		logger.L().Warn("quote_watch_read_error", "err", err)
		return
	}
	s.checkReference(ctx, ds)
}

// checkReference：参考点与上次不同则清空缓存；首次观察只记录
func (s *Service) checkReference(ctx context.Context, ds model.DeliverySettings) {
	next := referenceOf(ds)
	for {
		cur := s.ref.Load()
		if cur != nil && *cur == next {
			return
		}
		if !s.ref.CompareAndSwap(cur, &next) {
			continue
		}
		if cur == nil {
			return
		}
		logger.L().Info("quote_reference_changed",
			"old_lat", cur.point.Lat, "old_lng", cur.point.Lng,
			"new_lat", next.point.Lat, "new_lng", next.point.Lng)
		if err := s.cache.Purge(ctx); err != nil {
			logger.L().Error("geocache_purge_error", "err", err)
		}
		return
	}
}

// 文档注释：计算配送报价
// 步骤：读设置（禁用则直接返回）→ 检查参考点 → 读区域表 → 校验入参 → 缓存或地理编码 → 距离 → 区域匹配。
// 返回：失败时 error 为 *Error；超出范围是正常结果而非错误。
func (s *Service) Quote(ctx context.Context, address string, orderSubtotal float64) (Result, error) {
	t0 := time.Now()
	metrics.QuoteRequestsTotal.Inc()
	res, err := s.quote(ctx, address, orderSubtotal)
	metrics.QuoteDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	outcome := "in_range"
	switch {
	case err != nil:
		outcome = string(KindOf(err))
		logger.L().Warn("quote_failed", "kind", outcome, "err", err)
	case res.Disabled:
		outcome = "disabled"
	case !res.WithinRange:
		outcome = "out_of_range"
	}
	metrics.QuoteOutcomesTotal.WithLabelValues(outcome).Inc()
	logger.L().Debug("quote_done", "outcome", outcome, "distance_km", res.DistanceKm, "fee", res.Fee, "cache_hit", res.CacheHit)
	return res, err
}

func (s *Service) quote(ctx context.Context, address string, orderSubtotal float64) (Result, error) {
	ds, err := s.settings.DeliverySettings(ctx)
	if err != nil {
		return Result{}, classifyConfig(err)
	}
	if !ds.Enabled {
		return Result{Disabled: true}, nil
	}
	s.checkReference(ctx, ds)
	zones, err := s.settings.DeliveryZones(ctx)
	if err != nil {
		return Result{}, classifyConfig(err)
	}
	norm := geocache.Normalize(address)
	if norm == "" {
		return Result{}, &Error{Kind: KindInvalidRequest, Err: errors.New("empty address")}
	}
	if math.IsNaN(orderSubtotal) || math.IsInf(orderSubtotal, 0) || orderSubtotal < 0 {
		return Result{}, &Error{Kind: KindInvalidRequest, Err: fmt.Errorf("%w: %v", zone.ErrInvalidSubtotal, orderSubtotal)}
	}
	entry, hit, gerr := s.locate(ctx, address, norm, s.keyFor(ds))
	if gerr != nil {
		return Result{}, gerr
	}
	d := geo.DistanceKm(ds.RestaurantLat, ds.RestaurantLng, entry.Lat, entry.Lng)
	zq, err := zone.Resolve(d, orderSubtotal, zones, ds)
	if err != nil {
		return Result{}, classifyConfig(err)
	}
	return Result{
		WithinRange:         zq.WithinRange,
		DistanceKm:          d,
		Fee:                 zq.Fee,
		Zone:                zq.Zone,
		Implicit:            zq.Implicit,
		FreeDeliveryApplied: zq.FreeDeliveryApplied,
		FormattedAddress:    entry.FormattedAddress,
		CacheHit:            hit,
	}, nil
}

func (s *Service) keyFor(ds model.DeliverySettings) string {
	if ds.GeocodingAPIKey != "" {
		return ds.GeocodingAPIKey
	}
	return s.apiKey
}

type located struct {
	entry geocache.Entry
	fail  *Error
}

// locate：缓存命中直接返回；否则同一规范化地址的并发请求共享一次地理编码
// 约束：共享调用脱离发起者的取消，只受 lookup 时限约束；调用方取消只结束自己的等待。
func (s *Service) locate(ctx context.Context, address, norm, apiKey string) (geocache.Entry, bool, error) {
	if e, ok := s.cache.Get(ctx, norm); ok {
		return e, true, nil
	}
	ch := s.sf.DoChan(norm, func() (any, error) {
		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lookup)
		defer cancel()
		out := s.geocoder.Resolve(gctx, address, apiKey)
		if out.Kind != geocode.Resolved {
			return located{fail: classifyGeocode(out)}, nil
		}
		e := geocache.Entry{
			NormalizedAddress: norm,
			Lat:               out.Lat,
			Lng:               out.Lng,
			FormattedAddress:  out.FormattedAddress,
			ResolvedAt:        s.now().UTC(),
		}
		if err := (geo.Point{Lat: e.Lat, Lng: e.Lng}).Validate(); err != nil {
			return located{fail: &Error{Kind: KindGeocodeTransient, Err: err}}, nil
		}
		s.cache.Set(gctx, e)
		return located{entry: e}, nil
	})
	select {
	case <-ctx.Done():
		return geocache.Entry{}, false, &Error{Kind: KindGeocodeTransient, Err: ctx.Err()}
	case r := <-ch:
		l := r.Val.(located)
		if l.fail != nil {
			return geocache.Entry{}, false, l.fail
		}
		return l.entry, false, nil
	}
}
