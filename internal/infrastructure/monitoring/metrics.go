package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the reader service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Reader metrics
	DocumentReads   prometheus.Counter
	DocumentErrors  *prometheus.CounterVec
	TreeLists       prometheus.Counter
	SearchesTotal   *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec
	SearchCacheHits prometheus.Counter
	SearchCacheMiss prometheus.Counter
	ArchiveExports  *prometheus.CounterVec

	// Watcher metrics
	WatchEvents *prometheus.CounterVec

	// Preferences metrics
	PrefsReads  prometheus.Counter
	PrefsWrites prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time
}

// New creates and registers all metrics.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		ResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		DocumentReads: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_reader_document_reads_total",
				Help: "Total number of documents read",
			},
		),
		DocumentErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_reader_document_errors_total",
				Help: "Document read failures by reason",
			},
			[]string{"reason"},
		),
		TreeLists: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_reader_tree_lists_total",
				Help: "Total number of directory listings served",
			},
		),
		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_reader_searches_total",
				Help: "Total number of searches by mode",
			},
			[]string{"mode"},
		),
		SearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_reader_search_duration_seconds",
				Help:    "Search execution duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"mode"},
		),
		SearchCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_reader_search_cache_hits_total",
				Help: "Search results served from cache",
			},
		),
		SearchCacheMiss: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_reader_search_cache_misses_total",
				Help: "Searches that required a filesystem scan",
			},
		),
		ArchiveExports: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_reader_archive_exports_total",
				Help: "Subtree archive exports by format",
			},
			[]string{"format"},
		),

		WatchEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_watch_events_total",
				Help: "Filesystem change events by operation",
			},
			[]string{"op"},
		),

		PrefsReads: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_prefs_reads_total",
				Help: "Preference profile reads",
			},
		),
		PrefsWrites: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_prefs_writes_total",
				Help: "Preference profile writes",
			},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_ws_connections",
				Help: "Active WebSocket connections",
			},
		),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if respSize > 0 {
		m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

// RecordSearch records a completed search.
func (m *Metrics) RecordSearch(mode string, duration time.Duration) {
	m.SearchesTotal.WithLabelValues(mode).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// Uptime returns time elapsed since metrics creation.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
