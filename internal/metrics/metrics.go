// Package metrics exposes Prometheus collectors for call turn coordination.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used with SignalDropped.
const (
	DropUnknownParticipant = "unknown_participant"
	DropWrongRole          = "wrong_role"
	DropInputMode          = "input_mode"
	DropClosed             = "closed"
	DropUnknownType        = "unknown_type"
	DropMalformed          = "malformed"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	callsActive           prometheus.Gauge
	turnSwitchesTotal     *prometheus.CounterVec
	speakingEdgesTotal    *prometheus.CounterVec
	debounceCancelled     prometheus.Counter
	signalsDroppedTotal   *prometheus.CounterVec
	remoteMessagesTotal   *prometheus.CounterVec
	notificationsDropped  prometheus.Counter
	websocketConnections  prometheus.Gauge
	websocketMessageTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry
// together with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry creates the collectors on the given registry.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		callsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callturn_calls_active",
			Help: "Number of calls with a live turn coordinator",
		}),
		turnSwitchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callturn_turn_switches_total",
			Help: "Turn switches by new owner",
		}, []string{"owner"}),
		speakingEdgesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callturn_speaking_edges_total",
			Help: "Speaking state edges by participant role and action",
		}, []string{"role", "action"}),
		debounceCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callturn_debounce_cancelled_total",
			Help: "Pending turn switches discarded because someone started speaking",
		}),
		signalsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callturn_signals_dropped_total",
			Help: "Inbound signals ignored by the coordinator",
		}, []string{"reason"}),
		remoteMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callturn_remote_messages_total",
			Help: "Server messages received by type",
		}, []string{"type"}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callturn_notifications_dropped_total",
			Help: "Notifications dropped because the outbox was full",
		}),
		websocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callturn_websocket_connections",
			Help: "Open client WebSocket connections",
		}),
		websocketMessageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callturn_websocket_messages_total",
			Help: "Inbound WebSocket messages by event type",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.callsActive,
		m.turnSwitchesTotal,
		m.speakingEdgesTotal,
		m.debounceCancelled,
		m.signalsDroppedTotal,
		m.remoteMessagesTotal,
		m.notificationsDropped,
		m.websocketConnections,
		m.websocketMessageTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.callsActive.Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.callsActive.Dec()
}

func (m *Metrics) TurnSwitched(owner string) {
	if m == nil {
		return
	}
	m.turnSwitchesTotal.WithLabelValues(owner).Inc()
}

func (m *Metrics) SpeakingEdge(role, action string) {
	if m == nil {
		return
	}
	m.speakingEdgesTotal.WithLabelValues(role, action).Inc()
}

func (m *Metrics) DebounceCancelled() {
	if m == nil {
		return
	}
	m.debounceCancelled.Inc()
}

func (m *Metrics) SignalDropped(reason string) {
	if m == nil {
		return
	}
	m.signalsDroppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RemoteMessage(msgType string) {
	if m == nil {
		return
	}
	m.remoteMessagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) WebSocketOpened() {
	if m == nil {
		return
	}
	m.websocketConnections.Inc()
}

func (m *Metrics) WebSocketClosed() {
	if m == nil {
		return
	}
	m.websocketConnections.Dec()
}

func (m *Metrics) WebSocketMessage(eventType string) {
	if m == nil {
		return
	}
	m.websocketMessageTotal.WithLabelValues(eventType).Inc()
}
