// Package metrics exposes Prometheus instrumentation for the relay.
//
// A Collector owns its own registry so tests can construct isolated
// instances. Every recording method is safe to call on a nil *Collector,
// which turns instrumentation off without branching at call sites.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msgrelay"

// Collector records dispatch, observer, queue and subscriber metrics.
type Collector struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	observerFailures *prometheus.CounterVec
	lockErrors       *prometheus.CounterVec
	rateLimited      prometheus.Counter
	queueDepth       prometheus.Gauge
	subscribers      prometheus.Gauge
}

// NewCollector registers all relay metrics on registry. A nil registry gets
// a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by outcome.",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent inside dispatch, observers and channel send included.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		observerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_failures_total",
			Help:      "Observer invocations that returned an error or panicked.",
		}, []string{"observer"}),
		lockErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_errors_total",
			Help:      "Exclusive access failures by reason.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the intake rate limiter.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in the delivery channel.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected WebSocket subscribers.",
		}),
	}

	registry.MustRegister(
		c.dispatchTotal,
		c.dispatchDuration,
		c.observerFailures,
		c.lockErrors,
		c.rateLimited,
		c.queueDepth,
		c.subscribers,
	)

	return c
}

// RecordDispatch records one dispatch outcome and its duration.
func (c *Collector) RecordDispatch(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(outcome).Inc()
	c.dispatchDuration.Observe(duration.Seconds())
}

// RecordObserverFailure counts a failed observer invocation.
func (c *Collector) RecordObserverFailure(observer string) {
	if c == nil {
		return
	}
	c.observerFailures.WithLabelValues(observer).Inc()
}

// RecordLockError counts an exclusive access failure.
func (c *Collector) RecordLockError(reason string) {
	if c == nil {
		return
	}
	c.lockErrors.WithLabelValues(reason).Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// SetQueueDepth publishes the current delivery channel length.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// SetSubscribers publishes the connected subscriber count.
func (c *Collector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.subscribers.Set(float64(n))
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
