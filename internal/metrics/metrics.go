// Package metrics exposes supervisor activity as Prometheus
// collectors. The collectors are fed from the event bus, so the
// supervisor itself stays metrics-free.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scriptbox/scriptbox/internal/event"
)

// Metrics holds the scriptbox collectors.
type Metrics struct {
	registry *prometheus.Registry

	InstancesRunning prometheus.Gauge
	CommandStarts    *prometheus.CounterVec
	CommandStops     *prometheus.CounterVec
	RunOutcomes      *prometheus.CounterVec
	UINotices        prometheus.Counter
	QueuedMessages   prometheus.GaugeFunc
}

// New creates the collectors on a fresh registry. queued reports the
// number of messages buffered across all mailboxes; nil disables that
// gauge.
func New(queued func() int) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		InstancesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scriptbox_instances_running",
			Help: "Number of live instances.",
		}),
		CommandStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptbox_command_starts_total",
			Help: "Instance creations by origin.",
		}, []string{"origin"}),
		CommandStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptbox_command_stops_total",
			Help: "Instance teardowns by abort reason.",
		}, []string{"reason"}),
		RunOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptbox_run_outcomes_total",
			Help: "Top-level run outcomes.",
		}, []string{"outcome"}),
		UINotices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scriptbox_ui_notices_total",
			Help: "Notices published by sandboxed code.",
		}),
	}

	registry.MustRegister(m.InstancesRunning, m.CommandStarts, m.CommandStops, m.RunOutcomes, m.UINotices)

	if queued != nil {
		m.QueuedMessages = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scriptbox_queued_messages",
			Help: "Messages buffered across all mailboxes.",
		}, func() float64 { return float64(queued()) })
		registry.MustRegister(m.QueuedMessages)
	}

	return m
}

// Attach subscribes the collectors to the event bus and returns the
// subscription id.
func (m *Metrics) Attach(bus *event.Bus) uint64 {
	return bus.SubscribeAll(func(e event.Event) {
		switch ev := e.(type) {
		case event.CommandStartedEvent:
			m.InstancesRunning.Inc()
			m.CommandStarts.WithLabelValues(ev.Origin).Inc()
		case event.CommandStoppedEvent:
			m.InstancesRunning.Dec()
			m.CommandStops.WithLabelValues(ev.Reason).Inc()
		case event.CommandFinishedEvent:
			m.RunOutcomes.WithLabelValues(string(ev.Outcome)).Inc()
		case event.UINoticeEvent:
			m.UINotices.Inc()
		}
	})
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
