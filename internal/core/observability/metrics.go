// Package observability holds the application's Prometheus collectors and the
// helpers the rest of the code uses to feed them.
package observability

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~80s
		},
		[]string{"method", "route", "status"},
	)

	remoteLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_latency_seconds",
			Help:    "Latency of calls to the remote compute service.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"op", "outcome"},
	)

	geometryResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geometry_results_total",
			Help: "Per-geometry extraction outcomes.",
		},
		[]string{"outcome"},
	)

	seriesPoints = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "series_points",
			Help:    "Number of points returned per geometry series.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	seriesCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "series_cache_results_total",
			Help: "Series cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	hotAreas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hot_areas",
			Help: "Number of areas currently tracked by the hotness model.",
		},
	)

	invalidationLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "invalidation_lag_seconds",
			Help: "Lag between a collection update event and its processing.",
		},
	)

	collectionInvalidatedAt = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collection_invalidated_at_seconds",
			Help: "Unix time of the last applied invalidation per collection.",
		},
		[]string{"collection"},
	)
)

var invalidatedAt sync.Map // collection -> int64 unix seconds

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		remoteLatencySeconds,
		geometryResultsTotal,
		seriesPoints,
		seriesCacheResults,
		cacheOpTotal,
		redisOpDuration,
		hotAreas,
		invalidationLagSeconds,
		collectionInvalidatedAt,
	}
}

// Init registers the collectors with reg. Registering the same collectors on
// a registry twice is tolerated so tests can share a process.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if !on || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func Enabled() bool { return enabled.Load() }

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveRemote(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	remoteLatencySeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}

// ObserveGeometry records one geometry's extraction outcome and, on success,
// the length of its series.
func ObserveGeometry(err error, points int) {
	if !enabled.Load() {
		return
	}
	geometryResultsTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		seriesPoints.Observe(float64(points))
	}
}

func ObserveSeriesCache(tier, result string) {
	if !enabled.Load() {
		return
	}
	seriesCacheResults.WithLabelValues(tier, result).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	cacheOpTotal.WithLabelValues(op, outcome(err)).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func SetHotAreas(n int) {
	if !enabled.Load() {
		return
	}
	hotAreas.Set(float64(n))
}

func SetInvalidationLagSeconds(v float64) {
	if !enabled.Load() {
		return
	}
	invalidationLagSeconds.Set(v)
}

func SetCollectionInvalidatedAt(collection string, ts time.Time) {
	if collection == "" || ts.IsZero() {
		return
	}
	invalidatedAt.Store(collection, ts.Unix())
	if !enabled.Load() {
		return
	}
	collectionInvalidatedAt.WithLabelValues(collection).Set(float64(ts.Unix()))
}

// GetCollectionInvalidatedAtUnix returns 0 when nothing was recorded.
func GetCollectionInvalidatedAtUnix(collection string) int64 {
	if v, ok := invalidatedAt.Load(collection); ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
