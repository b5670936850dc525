// Package metrics holds the Prometheus collectors for catalog sync, identity provisioning,
// SSO minting and external platform calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	SyncRuns       *prometheus.CounterVec
	SyncDuration   *prometheus.HistogramVec
	SyncItems      *prometheus.CounterVec
	SlugCollisions *prometheus.CounterVec

	Provisions *prometheus.CounterVec
	SSOMints   *prometheus.CounterVec

	ExternalCalls        *prometheus.CounterVec
	ExternalCallDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all bridge metrics on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsbridge_sync_runs_total",
				Help: "Catalog sync runs by kind and status",
			},
			[]string{"kind", "status"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lmsbridge_sync_duration_seconds",
				Help:    "Catalog sync run duration",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		SyncItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsbridge_sync_items_total",
				Help: "Catalog items processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		SlugCollisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsbridge_slug_collisions_total",
				Help: "Slugs that needed a numeric suffix",
			},
			[]string{"kind"},
		),
		Provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsbridge_provisions_total",
				Help: "External identity provisioning attempts by outcome",
			},
			[]string{"outcome"},
		),
		SSOMints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsbridge_sso_mints_total",
				Help: "SSO tokens minted by outcome",
			},
			[]string{"outcome"},
		),
		ExternalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lmsbridge_external_calls_total",
				Help: "External platform web-service calls by function and result",
			},
			[]string{"function", "result"},
		),
		ExternalCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lmsbridge_external_call_duration_seconds",
				Help:    "External platform web-service call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"function"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.SyncRuns, m.SyncDuration, m.SyncItems, m.SlugCollisions,
		m.Provisions, m.SSOMints,
		m.ExternalCalls, m.ExternalCallDuration,
	)
	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSyncRun records a finished sync run.
func (m *Metrics) ObserveSyncRun(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SyncRuns.WithLabelValues(kind, status).Inc()
	m.SyncDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddSyncItems adds n items with the given outcome (created, updated, unchanged, failed).
func (m *Metrics) AddSyncItems(kind, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SyncItems.WithLabelValues(kind, outcome).Add(float64(n))
}

// IncSlugCollision counts one suffixed slug.
func (m *Metrics) IncSlugCollision(kind string) {
	if m == nil {
		return
	}
	m.SlugCollisions.WithLabelValues(kind).Inc()
}

// IncProvision counts one provisioning outcome (existing, created, adopted, lost_race, failed).
func (m *Metrics) IncProvision(outcome string) {
	if m == nil {
		return
	}
	m.Provisions.WithLabelValues(outcome).Inc()
}

// IncSSOMint counts one mint outcome (ok, not_provisioned, invalid_redirect, failed).
func (m *Metrics) IncSSOMint(outcome string) {
	if m == nil {
		return
	}
	m.SSOMints.WithLabelValues(outcome).Inc()
}

// ObserveExternalCall records one web-service round trip.
func (m *Metrics) ObserveExternalCall(function string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ExternalCalls.WithLabelValues(function, result).Inc()
	m.ExternalCallDuration.WithLabelValues(function).Observe(d.Seconds())
}
