package ratelimit

import (
	"time"

	"github.com/sells-group/collector-cli/internal/metrics"
)

// MetricsObserver feeds limiter decisions into the prometheus collector.
type MetricsObserver struct {
	collector *metrics.Collector
}

// NewMetricsObserver wires an observer to the given collector.
func NewMetricsObserver(c *metrics.Collector) *MetricsObserver {
	return &MetricsObserver{collector: c}
}

func (o *MetricsObserver) OnRequest(source string) {
	o.collector.RequestsTotal.WithLabelValues(source, "admitted").Inc()
}

func (o *MetricsObserver) OnLimitHit(source string, _ time.Duration) {
	o.collector.RateLimitHits.WithLabelValues(source).Inc()
}

func (o *MetricsObserver) OnReset(_ string) {}
