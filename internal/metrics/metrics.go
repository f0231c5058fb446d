package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-api/internal/cache"
	"github.com/keithlinneman/linnemanlabs-api/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// admission control
	ratelimitDeniedTotal   *prometheus.CounterVec
	ratelimitCapacityTotal prometheus.Counter
	ratelimitSweptTotal    prometheus.Counter

	cacheEvictionsTotal *prometheus.CounterVec

	exportTotal       *prometheus.CounterVec
	exportLastSuccess *prometheus.GaugeVec
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_denied_total",
			Help: "Requests rejected by the rate limiter by reason (burst, minute, capacity)",
		}, []string{"reason"}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_capacity_reached_total",
			Help: "Times the rate limiter identifier table filled up",
		}),
		ratelimitSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_swept_identifiers_total",
			Help: "Idle identifiers removed by the rate limiter sweep",
		}),
		cacheEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries removed from the cache by reason (capacity, expired, swept)",
		}, []string{"reason"}),
		exportTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metrics_export_total",
			Help: "Snapshot export attempts by sink and result",
		}, []string{"sink", "result"}),
		exportLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metrics_export_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful export per sink",
		}, []string{"sink"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.ratelimitSweptTotal,
		m.cacheEvictionsTotal,
		m.exportTotal,
		m.exportLastSuccess,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncRateLimitDenied(reason string) {
	m.ratelimitDeniedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) AddRateLimitSwept(n int) {
	m.ratelimitSweptTotal.Add(float64(n))
}

func (m *ServerMetrics) AddCacheEvictions(reason string, n int) {
	m.cacheEvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// ObserveExport counts one sink write and, on success, stamps its time.
func (m *ServerMetrics) ObserveExport(sink string, err error) {
	if err != nil {
		m.exportTotal.WithLabelValues(sink, "error").Inc()
		return
	}
	m.exportTotal.WithLabelValues(sink, "ok").Inc()
	m.exportLastSuccess.WithLabelValues(sink).SetToCurrentTime()
}

// RegisterCache exposes live cache stats on every scrape. Call once.
func (m *ServerMetrics) RegisterCache(name string, stats func() cache.Stats) {
	m.reg.MustRegister(newCacheCollector(name, stats))
}

// RegisterRateLimiter exposes the number of tracked identifiers. Call once.
func (m *ServerMetrics) RegisterRateLimiter(tracked func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ratelimit_tracked_identifiers",
		Help: "Identifiers currently held by the rate limiter",
	}, func() float64 { return float64(tracked()) }))
}

// RegisterAggregator exposes how full the monitoring buffers are. Call once.
func (m *ServerMetrics) RegisterAggregator(sizes func() (requests, errors int)) {
	for _, buf := range []string{"requests", "errors"} {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "monitoring_buffer_entries",
			Help:        "Entries held in the monitoring ring buffers",
			ConstLabels: prometheus.Labels{"buffer": buf},
		}, func() float64 {
			req, errs := sizes()
			if buf == "errors" {
				return float64(errs)
			}
			return float64(req)
		}))
	}
}
