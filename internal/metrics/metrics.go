package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dashboard collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	sessions         *prometheus.GaugeVec
	negotiation      *prometheus.HistogramVec
	incidents        *prometheus.CounterVec
	streamReconnects prometheus.Counter
	gatewayRequests  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{registry: reg}

	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yardwatch_session_transitions_total",
		Help: "Camera session state transitions",
	}, []string{"from", "to"})
	reg.MustRegister(m.transitions)

	m.sessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "yardwatch_sessions",
		Help: "Camera sessions per state",
	}, []string{"state"})
	reg.MustRegister(m.sessions)

	m.negotiation = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yardwatch_negotiation_duration_seconds",
		Help:    "Duration of offer/answer negotiations",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"result"})
	reg.MustRegister(m.negotiation)

	m.incidents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yardwatch_incidents_received_total",
		Help: "Incidents added to the live or history sequence",
	}, []string{"sequence"})
	reg.MustRegister(m.incidents)

	m.streamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yardwatch_alert_stream_reconnects_total",
		Help: "Alert push channel reconnect attempts",
	})
	reg.MustRegister(m.streamReconnects)

	m.gatewayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yardwatch_gateway_requests_total",
		Help: "REST calls to the media gateway and alert store",
	}, []string{"op", "result"})
	reg.MustRegister(m.gatewayRequests)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// SetSessionCounts replaces the per-state gauge values.
func (m *Metrics) SetSessionCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.sessions.Reset()
	for state, n := range counts {
		m.sessions.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) ObserveNegotiation(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.negotiation.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) IncidentsReceived(sequence string, n int) {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues(sequence).Add(float64(n))
}

func (m *Metrics) StreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnects.Inc()
}

func (m *Metrics) GatewayRequest(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayRequests.WithLabelValues(op, result).Inc()
}
