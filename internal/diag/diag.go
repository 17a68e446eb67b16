// Package diag is an optional diagnostics sink for the sync engine. It
// counts what the engine otherwise drops silently: malformed rows and
// actions that ran out of retries. Default behaviour never depends on it.
package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink receives engine events.
type Sink interface {
	RowsDropped(n int)
	ActionDropped(kind, reason string)
	PullCompleted(applied int, err error)
	DrainCompleted(applied, requeued, dropped int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RowsDropped(int)              {}
func (Nop) ActionDropped(string, string) {}
func (Nop) PullCompleted(int, error)     {}
func (Nop) DrainCompleted(int, int, int) {}

// Or returns s, or Nop when s is nil.
func Or(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Metrics is a Sink backed by Prometheus counters.
type Metrics struct {
	registry *prometheus.Registry

	rowsDropped    prometheus.Counter
	actionsDropped *prometheus.CounterVec
	pulls          *prometheus.CounterVec
	termsApplied   prometheus.Counter
	drainApplied   prometheus.Counter
	drainRequeued  prometheus.Counter
}

// NewMetrics registers the engine counters on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rowsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ecosync_sanitize_rows_dropped_total",
			Help: "Term rows skipped by the sanitizer",
		}),
		actionsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ecosync_queue_actions_dropped_total",
			Help: "Queued actions discarded without reaching the backend",
		}, []string{"kind", "reason"}),
		pulls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ecosync_pulls_total",
			Help: "Delta pulls by outcome",
		}, []string{"outcome"}),
		termsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "ecosync_pull_terms_applied_total",
			Help: "Sanitized term rows merged by pulls",
		}),
		drainApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "ecosync_drain_actions_applied_total",
			Help: "Queued actions confirmed by the backend",
		}),
		drainRequeued: f.NewCounter(prometheus.CounterOpts{
			Name: "ecosync_drain_actions_requeued_total",
			Help: "Queued actions kept for a later retry",
		}),
	}
}

// Registry exposes the registry for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RowsDropped(n int) {
	m.rowsDropped.Add(float64(n))
}

func (m *Metrics) ActionDropped(kind, reason string) {
	m.actionsDropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) PullCompleted(applied int, err error) {
	if err != nil {
		m.pulls.WithLabelValues("failed").Inc()
		return
	}
	m.pulls.WithLabelValues("ok").Inc()
	m.termsApplied.Add(float64(applied))
}

func (m *Metrics) DrainCompleted(applied, requeued, dropped int) {
	m.drainApplied.Add(float64(applied))
	m.drainRequeued.Add(float64(requeued))
}

// Multi fans events out to several sinks.
type Multi []Sink

func (ms Multi) RowsDropped(n int) {
	for _, s := range ms {
		s.RowsDropped(n)
	}
}

func (ms Multi) ActionDropped(kind, reason string) {
	for _, s := range ms {
		s.ActionDropped(kind, reason)
	}
}

func (ms Multi) PullCompleted(applied int, err error) {
	for _, s := range ms {
		s.PullCompleted(applied, err)
	}
}

func (ms Multi) DrainCompleted(applied, requeued, dropped int) {
	for _, s := range ms {
		s.DrainCompleted(applied, requeued, dropped)
	}
}
