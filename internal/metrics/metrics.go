// Package metrics holds the Prometheus collectors for builds, watch events
// and the registry size. Collectors live on a private registry so several
// orchestrators can coexist in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Build results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups every collector.
type Metrics struct {
	registry *prometheus.Registry

	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram
	eventsTotal   *prometheus.CounterVec
	droppedEvents prometheus.Counter
	registrySize  prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagebuild_builds_total",
				Help: "Total number of page bundle builds",
			},
			[]string{"result"},
		),
		buildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagebuild_build_duration_seconds",
				Help:    "Page bundle build latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagebuild_watch_events_total",
				Help: "Total number of filesystem events by branch taken",
			},
			[]string{"branch"},
		),
		droppedEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pagebuild_watch_events_dropped_total",
				Help: "Build events dropped because a build for the same file was in flight",
			},
		),
		registrySize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagebuild_registry_entries",
				Help: "Current number of registry entries",
			},
		),
	}
}

// ObserveBuild records one build and its duration.
func (m *Metrics) ObserveBuild(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.buildsTotal.WithLabelValues(result).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

// ObserveEvent counts an event by the branch it took.
func (m *Metrics) ObserveEvent(branch string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(branch).Inc()
}

// EventDropped counts a build event skipped by the per-file lock.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

// SetRegistrySize records the registry entry count.
func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.registrySize.Set(float64(n))
}

// Registry exposes the underlying gatherer.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
