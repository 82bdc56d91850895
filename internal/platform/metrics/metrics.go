// Package metrics provides the Prometheus collectors for dispatch, inbox and
// HTTP traffic, and the handler that exports them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes that are not error reasons.
const (
	OutcomeSent      = "sent"
	OutcomeDuplicate = "duplicate"
)

// Metrics owns a registry and its collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	inboxMerges      *prometheus.CounterVec
	inboxEntries     prometheus.Histogram
	httpRequests     *prometheus.CounterVec
}

// New creates a Metrics with its own registry, so tests and multiple servers
// never collide on the global one.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_dispatches_total",
				Help: "Share notifications by outcome",
			},
			[]string{"outcome"},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sharebox_dispatch_duration_seconds",
				Help:    "Duration of share notification dispatch",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		inboxMerges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_inbox_merges_total",
				Help: "Inbox merges by outcome (ok, partial or an error reason)",
			},
			[]string{"outcome"},
		),
		inboxEntries: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sharebox_inbox_entries",
				Help:    "Entries returned per inbox merge",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_http_requests_total",
				Help: "HTTP API requests by method and status",
			},
			[]string{"method", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dispatches,
		m.dispatchDuration,
		m.inboxMerges,
		m.inboxEntries,
		m.httpRequests,
	)
	return m
}

// ObserveDispatch records one OnRegistered outcome and how long it took.
func (m *Metrics) ObserveDispatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
	m.dispatchDuration.Observe(d.Seconds())
}

// ObserveInbox records one merge outcome and the number of entries returned.
func (m *Metrics) ObserveInbox(outcome string, entries int) {
	if m == nil {
		return
	}
	m.inboxMerges.WithLabelValues(outcome).Inc()
	if entries >= 0 {
		m.inboxEntries.Observe(float64(entries))
	}
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(method, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
