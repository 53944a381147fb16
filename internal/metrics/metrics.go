// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels a bus selection result.
const (
	OutcomeAssigned  = "assigned"
	OutcomeChanged   = "changed"
	OutcomeRemoved   = "removed"
	OutcomeUnchanged = "unchanged"
	OutcomeConsent   = "consent_required"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors and the registry they are registered on.
type Metrics struct {
	Registry *prometheus.Registry

	BusSelections   *prometheus.CounterVec
	FeesGenerated   *prometheus.CounterVec
	FeesAdvanced    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		BusSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "school_transport",
			Name:      "bus_selections_total",
			Help:      "Bus selections applied, by outcome.",
		}, []string{"outcome"}),
		FeesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "school_transport",
			Name:      "fees_generated_total",
			Help:      "Fee installments generated, by kind.",
		}, []string{"kind"}),
		FeesAdvanced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "school_transport",
			Name:      "fees_advanced_total",
			Help:      "Fee installments moved by the advancement job, by kind and new status.",
		}, []string{"kind", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "school_transport",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.BusSelections,
		m.FeesGenerated,
		m.FeesAdvanced,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
