package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sketchdojo/notifybridge/pkg/notify"
	"github.com/sketchdojo/notifybridge/pkg/realtime"
)

// Collector records notification traffic in Prometheus. It implements notify.Metrics.
type Collector struct {
	published        *prometheus.CounterVec
	publishFailures  *prometheus.CounterVec
	publishReceivers *prometheus.CounterVec
	received         *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	listenerRestarts prometheus.Counter
}

var _ notify.Metrics = (*Collector)(nil)

// New creates a collector and registers it with reg.
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "published_total",
			Help: "Notifications accepted by the broker.",
		}, []string{"type"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "publish_failures_total",
			Help: "Notifications that could not be published.",
		}, []string{"type"}),
		publishReceivers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "publish_receivers_total",
			Help: "Broker subscribers reached by published notifications.",
		}, []string{"type"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "received_total",
			Help: "Notifications read from the broker.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "dropped_total",
			Help: "Notifications dropped before reaching a handler.",
		}, []string{"reason"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "handler_failures_total",
			Help: "Handler invocations that returned an error or panicked.",
		}, []string{"type"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "notify", Name: "handler_duration_seconds",
			Help:    "Time spent in notification handlers.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		listenerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "listener_restarts_total",
			Help: "Restarts of the subscriber delivery loop.",
		}),
	}

	err := register(reg,
		c.published,
		c.publishFailures,
		c.publishReceivers,
		c.received,
		c.dropped,
		c.handlerFailures,
		c.handlerDuration,
		c.listenerRestarts,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) Published(t notify.Type, receivers int64) {
	c.published.WithLabelValues(t.String()).Inc()
	c.publishReceivers.WithLabelValues(t.String()).Add(float64(receivers))
}

func (c *Collector) PublishFailed(t notify.Type) {
	c.publishFailures.WithLabelValues(t.String()).Inc()
}

func (c *Collector) Received(t notify.Type) {
	c.received.WithLabelValues(t.String()).Inc()
}

func (c *Collector) Dropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) HandlerFailed(t notify.Type) {
	c.handlerFailures.WithLabelValues(t.String()).Inc()
}

func (c *Collector) HandlerDuration(t notify.Type, d time.Duration) {
	c.handlerDuration.WithLabelValues(t.String()).Observe(d.Seconds())
}

func (c *Collector) ListenerRestarted() {
	c.listenerRestarts.Inc()
}

// RegisterRealtime exposes the connection counts of a realtime manager as gauges.
func RegisterRealtime(reg prometheus.Registerer, namespace string, stats func() realtime.Stats) error {
	gauge := func(name, help string, value func(realtime.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: name, Help: help,
		}, func() float64 { return float64(value(stats())) })
	}
	return register(reg,
		gauge("connections", "Connected WebSocket clients.",
			func(s realtime.Stats) int { return s.ActiveConnections }),
		gauge("tasks", "Tasks followed by at least one client.",
			func(s realtime.Stats) int { return s.TaskSubscriptions }),
		gauge("webtoons", "Webtoons followed by at least one client.",
			func(s realtime.Stats) int { return s.WebtoonSubscriptions }),
		gauge("subscriptions", "Client task and webtoon subscriptions.",
			func(s realtime.Stats) int { return s.TotalSubscriptions }),
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	var errs []error
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
