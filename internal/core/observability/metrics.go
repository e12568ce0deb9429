package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

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
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"upstream"},
	)

	upstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Upstream calls that failed or returned a non-2xx status.",
		},
		[]string{"upstream"},
	)

	extractRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obe_extract_runs_total",
			Help: "Extraction runs by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	extractDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obe_extract_duration_seconds",
			Help:    "Wall time of extraction runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"source"},
	)

	partitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obe_partitions_total",
			Help: "Partitions processed by source and outcome (ok, fetch_error, parse_error).",
		},
		[]string{"source", "outcome"},
	)

	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obe_records_total",
			Help: "Building records by source and stage (fetched, retained).",
		},
		[]string{"source", "stage"},
	)

	catalogCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obe_catalog_cache_total",
			Help: "Catalog cache lookups by outcome (hit, miss, error).",
		},
		[]string{"outcome"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obe_events_total",
			Help: "Run summary events by outcome (queued, dropped, error).",
		},
		[]string{"outcome"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		upstreamErrorsTotal,
		extractRunsTotal,
		extractDurationSeconds,
		partitionsTotal,
		recordsTotal,
		catalogCacheTotal,
		cacheOpDurationSeconds,
		eventsTotal,
	}
}

// Init registers the collectors with reg. Registering twice on the same
// registry is a no-op.
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamError(upstream string) {
	upstreamErrorsTotal.WithLabelValues(upstream).Inc()
}

func ObserveRun(source, outcome string, durationSeconds float64) {
	extractRunsTotal.WithLabelValues(source, outcome).Inc()
	extractDurationSeconds.WithLabelValues(source).Observe(durationSeconds)
}

func IncPartition(source, outcome string) {
	partitionsTotal.WithLabelValues(source, outcome).Inc()
}

func AddRecords(source, stage string, n int) {
	if n <= 0 {
		return
	}
	recordsTotal.WithLabelValues(source, stage).Add(float64(n))
}

func IncCatalogCache(outcome string) {
	catalogCacheTotal.WithLabelValues(outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, result).Observe(durationSeconds)
}

func IncEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}
