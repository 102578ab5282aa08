// Package metrics holds the process-wide Prometheus collector and the
// spend tracker. Both are lazily-initialized singletons with explicit
// reset entry points for tests.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every metric the pipeline emits.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec // source, status
	RateLimitHits    *prometheus.CounterVec // source
	CaptchaDetected  *prometheus.CounterVec // type
	CaptchaSolved    *prometheus.CounterVec // type
	CaptchaFailed    *prometheus.CounterVec // type
	CaptchaSolveTime prometheus.Histogram
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheEvictions   prometheus.Counter
	CacheBytes       prometheus.Gauge
	ItemsProcessed   *prometheus.CounterVec // source, outcome
	ProcessingTime   *prometheus.HistogramVec
	ProxyHealthy     prometheus.Gauge
	ProxyFailures    prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec // kind
}

var (
	mu        sync.Mutex
	singleton *Collector
)

// Default returns the process-wide collector, creating it on first use.
func Default() *Collector {
	mu.Lock()
	defer mu.Unlock()
	if singleton == nil {
		singleton = newCollector()
	}
	return singleton
}

// Reset discards the singleton so the next Default call builds a fresh
// registry. Test-only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	singleton = nil
	resetSpend()
}

func newCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := func(name, help string, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
		reg.MustRegister(c)
		return c
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}

	solveTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_captcha_solve_seconds",
		Help:    "Captcha solve duration.",
		Buckets: []float64{5, 15, 30, 60, 120, 300},
	})
	reg.MustRegister(solveTime)

	procTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collector_item_processing_seconds",
		Help:    "Per-item pipeline processing duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	reg.MustRegister(procTime)

	return &Collector{
		registry:         reg,
		RequestsTotal:    factory("collector_requests_total", "Outbound requests by source and status.", "source", "status"),
		RateLimitHits:    factory("collector_rate_limit_hits_total", "Rate limiter waits by source.", "source"),
		CaptchaDetected:  factory("collector_captcha_detected_total", "Captchas detected by type.", "type"),
		CaptchaSolved:    factory("collector_captcha_solved_total", "Captchas solved by type.", "type"),
		CaptchaFailed:    factory("collector_captcha_failed_total", "Captcha solve failures by type.", "type"),
		CaptchaSolveTime: solveTime,
		CacheHits:        counter("collector_cache_hits_total", "Response cache hits."),
		CacheMisses:      counter("collector_cache_misses_total", "Response cache misses."),
		CacheEvictions:   counter("collector_cache_evictions_total", "Response cache evictions."),
		CacheBytes:       gauge("collector_cache_bytes", "Bytes held by the in-process cache."),
		ItemsProcessed:   factory("collector_items_processed_total", "Pipeline items by source and outcome.", "source", "outcome"),
		ProcessingTime:   procTime,
		ProxyHealthy:     gauge("collector_proxy_healthy", "Healthy proxies in the pool."),
		ProxyFailures:    counter("collector_proxy_failures_total", "Proxy failures marked."),
		ErrorsTotal:      factory("collector_errors_total", "Classified errors by kind.", "kind"),
	}
}

// Handler serves the collector's registry for the monitoring endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
