// Package metrics exposes Prometheus collectors for the session bridge.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "termbridge"

// Metrics holds the bridge's collectors.
type Metrics struct {
	EventsDelivered   *prometheus.CounterVec
	DeliveriesDropped prometheus.Counter
	PollErrors        prometheus.Counter
	PollingSessions   prometheus.Counter
	Running           prometheus.Gauge
	Polling           prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_delivered_total",
				Help:      "Input events delivered to the consumer, by kind",
			},
			[]string{"kind"},
		),
		DeliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Input events the consumer refused",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Polling sessions ended by a surface error",
		}),
		PollingSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polling_sessions_total",
			Help:      "Polling sessions started",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while the terminal surface is acquired",
		}),
		Polling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "polling",
			Help:      "1 while an event poller is active",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsDelivered,
			m.DeliveriesDropped,
			m.PollErrors,
			m.PollingSessions,
			m.Running,
			m.Polling,
		)
	}
	return m
}

func (m *Metrics) EventDelivered(kind string) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.DeliveriesDropped.Inc()
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.PollErrors.Inc()
}

// SetRunning records the surface lifecycle.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	m.Running.Set(boolToFloat(running))
}

// PollingStarted records the start of a polling session.
func (m *Metrics) PollingStarted() {
	if m == nil {
		return
	}
	m.PollingSessions.Inc()
	m.Polling.Set(1)
}

// PollingStopped records the end of a polling session.
func (m *Metrics) PollingStopped() {
	if m == nil {
		return
	}
	m.Polling.Set(0)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
