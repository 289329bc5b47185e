package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robb-j/husky-cms/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// list cache
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	staleServed      prometheus.Counter
	upstreamErrors   *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
	requestedLists   prometheus.Gauge
	refreshCycles    prometheus.Counter

	// site
	transformerErrors *prometheus.CounterVec
	pluginLoadErrors  prometheus.Counter
	siteMode          *prometheus.GaugeVec
	activePageTypes   prometheus.Gauge
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
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listcache_hits_total",
			Help: "List fetches answered from a fresh cache entry",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listcache_misses_total",
			Help: "List fetches that went upstream",
		}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listcache_stale_served_total",
			Help: "Expired entries served because the upstream fetch failed",
		}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listcache_upstream_errors_total",
			Help: "Failed upstream list fetches by error kind",
		}, []string{"kind"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "listcache_upstream_duration_seconds",
			Help:    "Latency of upstream list fetches",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		requestedLists: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listcache_requested_lists",
			Help: "Distinct list ids requested since startup",
		}),
		refreshCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listcache_refresh_cycles_total",
			Help: "Completed background refresh cycles",
		}),
		transformerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_transformer_errors_total",
			Help: "Content parsers that failed on a card, by content type",
		}, []string{"content_type"}),
		pluginLoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plugin_load_errors_total",
			Help: "Plugin modules that failed to register and were skipped",
		}),
		siteMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "site_mode_info",
			Help: "Resolved site mode (labels carry value, gauge is always 1)",
		}, []string{"mode", "page_type"}),
		activePageTypes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "site_active_page_types",
			Help: "Page types whose variables were present at startup",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.cacheHits,
		m.cacheMisses,
		m.staleServed,
		m.upstreamErrors,
		m.upstreamDuration,
		m.requestedLists,
		m.refreshCycles,
		m.transformerErrors,
		m.pluginLoadErrors,
		m.siteMode,
		m.activePageTypes,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
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

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncCacheHit()    { m.cacheHits.Inc() }
func (m *ServerMetrics) IncCacheMiss()   { m.cacheMisses.Inc() }
func (m *ServerMetrics) IncStaleServed() { m.staleServed.Inc() }

func (m *ServerMetrics) IncUpstreamError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) ObserveUpstreamDuration(seconds float64) {
	m.upstreamDuration.Observe(seconds)
}

func (m *ServerMetrics) SetRequestedLists(n int) {
	m.requestedLists.Set(float64(n))
}

func (m *ServerMetrics) IncRefreshCycle() {
	m.refreshCycles.Inc()
}

func (m *ServerMetrics) IncTransformerError(contentType string) {
	m.transformerErrors.WithLabelValues(contentType).Inc()
}

func (m *ServerMetrics) IncPluginLoadError() {
	m.pluginLoadErrors.Inc()
}

// SetSiteMode records the resolved mode; pageType is empty in composite mode.
func (m *ServerMetrics) SetSiteMode(mode, pageType string) {
	m.siteMode.Reset()
	m.siteMode.WithLabelValues(mode, pageType).Set(1)
}

func (m *ServerMetrics) SetActivePageTypes(n int) {
	m.activePageTypes.Set(float64(n))
}
