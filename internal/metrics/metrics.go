// Package metrics holds the Prometheus collectors for socksbridge listeners
// and relays.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "socksbridge"

// Request kinds.
const (
	KindConnect = "connect"
	KindForward = "forward"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	activeTunnels  prometheus.Gauge
	relayedBytes   *prometheus.CounterVec
	reloads        *prometheus.CounterVec
	listeners      prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg creates
// a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inbound proxy requests by listener port and kind.",
		}, []string{"listener", "kind"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Requests rejected by proxy authentication.",
		}, []string{"listener"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed direct connects or SOCKS5 handshakes.",
		}, []string{"listener", "mode"}),
		activeTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tunnels",
			Help:      "CONNECT tunnels currently splicing.",
		}),
		relayedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_bytes_total",
			Help:      "Bytes relayed through tunnels by direction.",
		}, []string{"direction"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Listener set reloads by result.",
		}, []string{"result"}),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners",
			Help:      "Bound TLS proxy listeners.",
		}),
	}

	reg.MustRegister(m.requests, m.authFailures, m.upstreamErrors, m.activeTunnels, m.relayedBytes, m.reloads, m.listeners)
	return m
}

func (m *Metrics) Request(port int, kind string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(port), kind).Inc()
}

func (m *Metrics) AuthFailure(port int) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(strconv.Itoa(port)).Inc()
}

func (m *Metrics) UpstreamError(port int, mode string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(strconv.Itoa(port), mode).Inc()
}

// TunnelOpened increments the active tunnel gauge and returns the matching
// decrement.
func (m *Metrics) TunnelOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activeTunnels.Inc()
	return m.activeTunnels.Dec
}

// Relayed adds n bytes for direction ("upstream" or "downstream").
func (m *Metrics) Relayed(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.relayedBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) Reload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.reloads.WithLabelValues(result).Inc()
}

func (m *Metrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}
