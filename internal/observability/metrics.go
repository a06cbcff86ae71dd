// Package observability exposes Prometheus metrics for the bridge. All
// record methods are nil-safe so callers can run without metrics in tests.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panelbridge/panelbridge-go/internal/panel"
)

// Metrics is the process metric set, backed by its own registry so tests
// never collide on the global default.
type Metrics struct {
	registry *prometheus.Registry

	sweeps         *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	panelRequests  *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	pinnedServers  prometheus.Gauge
}

// NewMetrics builds and registers the metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelbridge_sweeps_total",
			Help: "Reconciliation sweeps by result.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "panelbridge_sweep_duration_seconds",
			Help:    "Wall time of one reconciliation sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		panelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelbridge_panel_requests_total",
			Help: "Panel operations by protocol, operation and result.",
		}, []string{"protocol", "op", "result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelbridge_token_refreshes_total",
			Help: "Panel session refreshes by result.",
		}, []string{"result"}),
		pinnedServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panelbridge_pinned_servers",
			Help: "Pinned servers currently tracked across all tenants.",
		}),
	}
	registry.MustRegister(m.sweeps, m.sweepDuration, m.panelRequests, m.tokenRefreshes, m.pinnedServers)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSweep records one reconciliation sweep.
func (m *Metrics) ObserveSweep(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}

// ObservePanelRequest records one panel operation outcome.
func (m *Metrics) ObservePanelRequest(protocol panel.Protocol, op string, err error) {
	if m == nil {
		return
	}
	m.panelRequests.WithLabelValues(string(protocol), op, classify(err)).Inc()
}

// ObserveTokenRefresh records one session refresh attempt.
func (m *Metrics) ObserveTokenRefresh(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// SetPinnedServers updates the pinned-server gauge.
func (m *Metrics) SetPinnedServers(n int) {
	if m == nil {
		return
	}
	m.pinnedServers.Set(float64(n))
}

func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, panel.ErrAuth):
		return "auth"
	case errors.Is(err, panel.ErrTimeout):
		return "timeout"
	case errors.Is(err, panel.ErrServerNotFound):
		return "not_found"
	case errors.Is(err, panel.ErrConnection):
		return "connection"
	default:
		return "error"
	}
}
