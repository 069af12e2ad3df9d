// Package metrics defines the prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ScansRequested   prometheus.Counter
	TriggerFailures  prometheus.Counter
	BatchFailures    *prometheus.CounterVec
	EventsReconciled *prometheus.CounterVec
	DuplicateEvents  prometheus.Counter
	ScansCompleted   *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagewatch",
			Name:      "scans_requested_total",
			Help:      "Scan requests that moved an image to scanning.",
		}),
		TriggerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagewatch",
			Name:      "trigger_failures_total",
			Help:      "Best-effort scan trigger invocations that failed.",
		}),
		BatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagewatch",
			Name:      "batch_failures_total",
			Help:      "Batch operations with at least one failed item.",
		}, []string{"operation"}),
		EventsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagewatch",
			Name:      "reconciler_events_total",
			Help:      "Change events applied to view caches.",
		}, []string{"entity", "kind"}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagewatch",
			Name:      "reconciler_duplicate_events_total",
			Help:      "Change events skipped as redeliveries.",
		}),
		ScansCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagewatch",
			Name:      "scans_completed_total",
			Help:      "Scans concluded by the scan runner, by outcome.",
		}, []string{"status"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagewatch",
			Name:      "active_sessions",
			Help:      "Open per-account sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ScansRequested, m.TriggerFailures, m.BatchFailures, m.EventsReconciled,
			m.DuplicateEvents, m.ScansCompleted, m.ActiveSessions)
	}
	return m
}

// Discard returns unregistered collectors, for tests and tools.
func Discard() *Metrics { return New(nil) }
