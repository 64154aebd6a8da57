// Package metrics exposes Prometheus metrics and the health endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is a
// valid no-op receiver so instrumentation can be left unwired in tests.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	DetectionsTotal   prometheus.Counter
}

// New creates and registers all metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "genomic_connections_total",
			Help: "Total number of accepted client connections",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "genomic_active_connections",
			Help: "Number of connections currently being served",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genomic_commands_total",
			Help: "Total number of dispatched protocol commands",
		}, []string{"op"}),
		DetectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "genomic_detections_total",
			Help: "Total number of disease detections reported",
		}),
	}
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// ConnClosed records a finished connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// IncCommand records one dispatched command.
func (m *Metrics) IncCommand(op string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(op).Inc()
}

// IncDetection records one reported detection.
func (m *Metrics) IncDetection() {
	if m == nil {
		return
	}
	m.DetectionsTotal.Inc()
}

// NewHealthServer builds the HTTP server exposing /healthz and /metrics.
func NewHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
