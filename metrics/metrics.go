// Package metrics exposes Prometheus collectors for the sockopt server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sockopt/protocol"
)

const namespace = "sockopt"

// Metrics holds the server's collectors.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	BodyBytes   *prometheus.CounterVec
	InFlight    prometheus.Gauge
	Connections *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests
// to avoid clashing with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Sockopt transactions by kind, command id and result code.",
		}, []string{"kind", "cmd", "code"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent in command handlers.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"kind"}),
		BodyBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "body_bytes_total",
			Help:      "Request and reply body bytes.",
		}, []string{"direction"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently being handled.",
		}),
		Connections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted control connections by outcome.",
		}, []string{"outcome"}),
	}
}

// Observe records one finished transaction.
func (m *Metrics) Observe(kind protocol.OpKind, cmd int32, code int32, d time.Duration, inBytes, outBytes int) {
	m.Requests.WithLabelValues(kind.String(), strconv.Itoa(int(cmd)), strconv.Itoa(int(code))).Inc()
	m.Duration.WithLabelValues(kind.String()).Observe(d.Seconds())
	m.BodyBytes.WithLabelValues("in").Add(float64(inBytes))
	if code == protocol.CodeOK {
		m.BodyBytes.WithLabelValues("out").Add(float64(outBytes))
	}
}

// Connection counts an accepted connection; outcome is "ok" or a short failure reason.
func (m *Metrics) Connection(outcome string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(outcome).Inc()
}
