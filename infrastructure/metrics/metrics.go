// Package metrics exposes capture job activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
)

const namespace = "pagecap"

// Outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Collector turns job events into metrics.
type Collector struct {
	registry *prometheus.Registry

	captures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	frames        prometheus.Counter
	active        prometheus.Gauge
	artifactBytes *prometheus.HistogramVec
	tabsFollowed  prometheus.Counter

	mu     sync.Mutex
	bus    eventbus.EventBus
	subID  string
	queued map[string]struct{}
}

// NewCollector registers the capture metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		captures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Finished captures by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Wall time of finished captures.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"mode"}),
		frames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_encoded_total",
			Help:      "Video frames handed to encoders by completed recordings.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Capture jobs queued or running.",
		}),
		artifactBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_bytes",
			Help:      "Size of produced artifacts.",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8),
		}, []string{"mode"}),
		tabsFollowed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tabs_followed_total",
			Help:      "Times a recording moved to a newly opened tab.",
		}),
		queued: make(map[string]struct{}),
	}
}

// Attach subscribes the collector to bus and exports its drop counter.
func (c *Collector) Attach(bus eventbus.EventBus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus != nil {
		return
	}
	c.bus = bus
	c.subID = bus.Subscribe(c.Handle)

	promauto.With(c.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events discarded because the event bus queue was full.",
	}, func() float64 {
		return float64(bus.Dropped())
	})
}

// Detach removes the bus subscription.
func (c *Collector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus != nil {
		c.bus.Unsubscribe(c.subID)
	}
}

// Handle updates metrics for one event.
func (c *Collector) Handle(e event.Event) {
	switch ev := e.(type) {
	case *event.JobQueued:
		c.mu.Lock()
		c.queued[ev.JobID()] = struct{}{}
		c.mu.Unlock()
		c.active.Inc()
	case *event.TabFollowed:
		c.tabsFollowed.Inc()
	case *event.JobCompleted:
		c.finish(ev.JobID())
		c.captures.WithLabelValues(ev.Mode, OutcomeCompleted).Inc()
		c.duration.WithLabelValues(ev.Mode).Observe(ev.Elapsed.Seconds())
		c.artifactBytes.WithLabelValues(ev.Mode).Observe(float64(ev.Size))
		c.frames.Add(float64(ev.Frames))
	case *event.JobFailed:
		c.finish(ev.JobID())
		c.captures.WithLabelValues(ev.Mode, OutcomeFailed).Inc()
		c.duration.WithLabelValues(ev.Mode).Observe(ev.Elapsed.Seconds())
	case *event.JobCancelled:
		c.finish(ev.JobID())
		c.captures.WithLabelValues(ev.Mode, OutcomeCancelled).Inc()
	}
}

// finish decrements the active gauge once per queued job.
func (c *Collector) finish(jobID string) {
	c.mu.Lock()
	_, ok := c.queued[jobID]
	delete(c.queued, jobID)
	c.mu.Unlock()
	if ok {
		c.active.Dec()
	}
}

// Registry returns the registry holding the capture metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
