package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the tracker.
type Metrics struct {
	Registry      *prometheus.Registry
	SweepsTotal   *prometheus.CounterVec
	ChecksTotal   *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	RetriesTotal  prometheus.Counter
	PublishErrors prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	sweeps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_tracker_sweeps_total",
			Help: "Total sweep cycles by trigger.",
		},
		[]string{"trigger"},
	)
	checks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_tracker_site_checks_total",
			Help: "Total per-site checks by result.",
		},
		[]string{"result"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_tracker_fetch_duration_seconds",
			Help:    "Page fetch latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "price_tracker_retries_total",
			Help: "Total alternate-header fetch retries.",
		},
	)
	publishErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "price_tracker_publish_errors_total",
			Help: "Total failed MQTT publish attempts.",
		},
	)

	registry.MustRegister(sweeps, checks, fetchDuration, retries, publishErrors)

	return &Metrics{
		Registry:      registry,
		SweepsTotal:   sweeps,
		ChecksTotal:   checks,
		FetchDuration: fetchDuration,
		RetriesTotal:  retries,
		PublishErrors: publishErrors,
	}
}

// IncSweep increments the sweep counter for a trigger label.
func (m *Metrics) IncSweep(trigger string) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(trigger).Inc()
}

// IncCheck increments the site check counter for a result label.
func (m *Metrics) IncCheck(result string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records a page fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetries increments the alternate-header retry counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncPublishError increments the failed publish counter.
func (m *Metrics) IncPublishError() {
	if m == nil {
		return
	}
	m.PublishErrors.Inc()
}
