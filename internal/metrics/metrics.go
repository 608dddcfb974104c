package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_requests_total",
		Help: "Total number of API requests by route",
	}, []string{"route"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tzapi_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_lookups_total",
		Help: "Total timezone lookups by mode and outcome (found, absent, error)",
	}, []string{"mode", "outcome"})
	LookupDurationUs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tzapi_lookup_duration_us",
		Help:    "Single lookup duration in microseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"mode"})
	PolygonsTested = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tzapi_polygons_tested",
		Help:    "Number of full containment tests per lookup",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_cache_hits_total",
		Help: "Total cache hits by layer (lru, redis)",
	}, []string{"layer"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_cache_misses_total",
		Help: "Total cache misses by layer (lru, redis)",
	}, []string{"layer"})
	DatasetReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_dataset_reloads_total",
		Help: "Dataset reload attempts by status",
	}, []string{"status"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tzapi_rate_limited_total",
		Help: "Total requests rejected by the token bucket",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupDurationUs)
	prometheus.MustRegister(PolygonsTested)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(DatasetReloadsTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
