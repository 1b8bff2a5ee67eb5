package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var msBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

var (
	QuoteRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_quote_requests_total",
		Help: "Total number of quote requests",
	})
	QuoteOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_quote_outcomes_total",
		Help: "Quote results by outcome (in_range, out_of_range, disabled or error kind)",
	}, []string{"outcome"})
	QuoteDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "delivery_quote_duration_ms",
		Help:    "Quote duration in milliseconds",
		Buckets: msBuckets,
	})
	GeocodeRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_geocode_requests_total",
		Help: "Total provider requests (each retry attempt counts)",
	})
	GeocodeOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_geocode_outcomes_total",
		Help: "Provider attempt outcomes by kind",
	}, []string{"kind"})
	GeocodeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "delivery_geocode_duration_ms",
		Help:    "Provider request duration in milliseconds",
		Buckets: msBuckets,
	})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_geocode_cache_hits_total",
		Help: "Total geocode cache hits",
	})
	GeocodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_geocode_cache_misses_total",
		Help: "Total geocode cache misses",
	})
	GeocodeCachePurgesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_geocode_cache_purges_total",
		Help: "Total full geocode cache purges",
	})
	SettingsReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_settings_reads_total",
		Help: "Settings reads by source (snapshot or backend)",
	}, []string{"key", "source"})
	SettingsUpsertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_settings_upserts_total",
		Help: "Settings upserts by result",
	}, []string{"key", "result"})
	NotifyPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_notify_published_total",
		Help: "Change events published to local subscribers",
	}, []string{"key"})
	NotifyDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_notify_dropped_total",
		Help: "Change events dropped because a subscriber queue was full",
	}, []string{"key"})
	LiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_live_clients",
		Help: "Connected settings stream clients",
	})
)

func init() {
	prometheus.MustRegister(
		QuoteRequestsTotal,
		QuoteOutcomesTotal,
		QuoteDurationMs,
		GeocodeRequestsTotal,
		GeocodeOutcomesTotal,
		GeocodeDurationMs,
		GeocodeCacheHitsTotal,
		GeocodeCacheMissesTotal,
		GeocodeCachePurgesTotal,
		SettingsReadsTotal,
		SettingsUpsertsTotal,
		NotifyPublishedTotal,
		NotifyDroppedTotal,
		LiveClients,
	)
}

// 文档注释：返回 Prometheus 指标处理器，在主入口挂载到 {API_BASE}/metrics
func Handler() http.Handler { return promhttp.Handler() }
