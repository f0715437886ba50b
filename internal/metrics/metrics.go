// ABOUTME: Prometheus collectors for sessions, handshakes, frames and heartbeats.
// ABOUTME: A nil *Metrics is valid and records nothing.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bot_manager"

// Handshake results.
const (
	ResultActive     = "active"
	ResultReattached = "reattached"
	ResultRejected   = "rejected"
	ResultDuplicate  = "duplicate"
	ResultGone       = "gone"
)

// Metrics holds the manager's collectors and the registry they are bound to.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	handshakes     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesSent     prometheus.Counter
	heartbeats     prometheus.Counter
	controlCmds    *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions with a live transport",
		}),

		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "handshakes_total",
			Help:      "Login handshakes by result",
		}, []string{"result"}), // active, reattached, rejected, duplicate, gone

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Inbound frames by verb",
		}, []string{"verb"}),

		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Outbound frames enqueued to bots",
		}),

		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "pings_total",
			Help:      "Status pings sent by the heartbeat scheduler",
		}),

		controlCmds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "commands_total",
			Help:      "Control channel commands by verb and outcome",
		}, []string{"verb", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsActive,
		m.handshakes,
		m.framesReceived,
		m.framesSent,
		m.heartbeats,
		m.controlCmds,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetSessionsActive records the number of Active sessions.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// Handshake counts a login handshake outcome.
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// FrameReceived counts an inbound frame.
func (m *Metrics) FrameReceived(verb string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(verb).Inc()
}

// FrameSent counts an outbound frame.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// Heartbeats adds n status pings.
func (m *Metrics) Heartbeats(n int) {
	if m == nil {
		return
	}
	m.heartbeats.Add(float64(n))
}

// ControlCommand counts a control channel command.
func (m *Metrics) ControlCommand(verb, outcome string) {
	if m == nil {
		return
	}
	m.controlCmds.WithLabelValues(verb, outcome).Inc()
}
