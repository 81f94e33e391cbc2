package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Search metrics
	SearchRequestsTotal     *prometheus.CounterVec
	SearchDuration          prometheus.Histogram
	SearchIndexHits         prometheus.Histogram
	SearchDriftDroppedTotal prometheus.Counter

	// Dependency metrics
	DependencyDuration    *prometheus.HistogramVec
	DependencyErrorsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
	DBReplicasAvailable    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flakestry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flakestry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flakestry_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		// Search metrics
		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flakestry_search_requests_total",
				Help: "Total number of free-text searches by outcome",
			},
			[]string{"outcome"},
		),
		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flakestry_search_duration_seconds",
				Help:    "End-to-end search duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SearchIndexHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flakestry_search_index_hits",
				Help:    "Number of hits returned by the search index per query",
				Buckets: []float64{0, 1, 2, 5, 10},
			},
		),
		SearchDriftDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flakestry_search_drift_dropped_total",
				Help: "Index hits dropped because the release store has no matching row",
			},
		),

		// Dependency metrics
		DependencyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flakestry_dependency_duration_seconds",
				Help:    "Duration of calls to backing services in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"dependency", "operation"},
		),
		DependencyErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flakestry_dependency_errors_total",
				Help: "Total number of failed calls to backing services",
			},
			[]string{"dependency", "operation"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flakestry_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flakestry_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),

		// Database metrics
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flakestry_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flakestry_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flakestry_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flakestry_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBReplicasAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flakestry_db_replicas_available",
				Help: "Number of read replicas currently in rotation",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SearchRequestsTotal,
		m.SearchDuration,
		m.SearchIndexHits,
		m.SearchDriftDroppedTotal,
		m.DependencyDuration,
		m.DependencyErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBReplicasAvailable,
	)

	return m
}

// The Observe/Record helpers below are no-ops on a nil *Metrics so callers
// can run without a registry.

// ObserveSearch records the outcome and duration of a search
func (m *Metrics) ObserveSearch(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(outcome).Inc()
	m.SearchDuration.Observe(time.Since(start).Seconds())
}

// ObserveSearchHits records how many hits the index returned
func (m *Metrics) ObserveSearchHits(hits int) {
	if m == nil {
		return
	}
	m.SearchIndexHits.Observe(float64(hits))
}

// ObserveDrift counts index hits dropped for lack of a stored release
func (m *Metrics) ObserveDrift(dropped int) {
	if m == nil || dropped <= 0 {
		return
	}
	m.SearchDriftDroppedTotal.Add(float64(dropped))
}

// ObserveDependency records a call to a backing service
func (m *Metrics) ObserveDependency(dependency, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.DependencyDuration.WithLabelValues(dependency, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.DependencyErrorsTotal.WithLabelValues(dependency, operation).Inc()
	}
}

// RecordCache counts a cache lookup
func (m *Metrics) RecordCache(cacheType, keyType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType, keyType).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cacheType, keyType).Inc()
	}
}

// UpdateDBStats copies connection pool statistics into the database gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats, replicas int) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBReplicasAvailable.Set(float64(replicas))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality label; when nil the URL path is used.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeName != nil {
				route = routeName(r)
			}
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
