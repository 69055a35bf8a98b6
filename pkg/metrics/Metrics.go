// Package metrics with the prometheus collectors of the session client
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace of all session client metrics
const Namespace = "wost_session"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	remoteCalls      *prometheus.CounterVec
	retries          prometheus.Counter
	reconnectFailed  prometheus.Counter
	commandOutcomes  *prometheus.CounterVec
	clientStatus     prometheus.Gauge
	statusTransition *prometheus.CounterVec
}

// ObserveRemoteCall counts a remote call attempt by result ("ok" or "error")
func (m *Metrics) ObserveRemoteCall(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.remoteCalls.WithLabelValues(result).Inc()
}

// IncRetry counts a reconnect-and-retry
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// IncReconnectFailed counts a failed reconnect attempt
func (m *Metrics) IncReconnectFailed() {
	if m == nil {
		return
	}
	m.reconnectFailed.Inc()
}

// ObserveCommand counts a finished request command by name and final state
func (m *Metrics) ObserveCommand(name string, state string) {
	if m == nil {
		return
	}
	m.commandOutcomes.WithLabelValues(name, state).Inc()
}

// SetClientStatus records the current client status
func (m *Metrics) SetClientStatus(from string, to string, ordinal int) {
	if m == nil {
		return
	}
	m.clientStatus.Set(float64(ordinal))
	m.statusTransition.WithLabelValues(from, to).Inc()
}

// NewMetrics creates the collectors and registers them with the registerer.
// Use prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "remote_calls_total",
			Help:      "Remote call attempts by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_total",
			Help:      "Calls retried after a reconnect.",
		}),
		reconnectFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconnect_failures_total",
			Help:      "Reconnect attempts that failed.",
		}),
		commandOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Finished request commands by name and final state.",
		}, []string{"command", "state"}),
		clientStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "client_status",
			Help:      "Current client status ordinal (0=NOT_CONNECTED .. 4=RUNNING).",
		}),
		statusTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "status_transitions_total",
			Help:      "Client status transitions.",
		}, []string{"from", "to"}),
	}
	if reg != nil {
		reg.MustRegister(m.remoteCalls, m.retries, m.reconnectFailed,
			m.commandOutcomes, m.clientStatus, m.statusTransition)
	}
	return m
}
