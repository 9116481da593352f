// Package metrics holds the Prometheus collectors describing the relays
// activity. Each Metrics owns its own registry, so that multiple instances
// (such as in tests) never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "immich_relay"

type Metrics struct {
	registry *prometheus.Registry

	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	acquisitions    *prometheus.CounterVec
	relays          *prometheus.CounterVec
	relayDuration   *prometheus.HistogramVec
	uploads         *prometheus.CounterVec
	sweptWorkspaces prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "tool_invocations_total",
			Help:      "Downloader tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "tool_duration_seconds",
			Help:      "Time spent running each downloader tool.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"tool"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "acquisitions_total",
			Help:      "URL acquisitions by outcome (success or failure kind).",
		}, []string{"outcome"}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "immich",
			Name:      "relays_total",
			Help:      "Asset uploads to Immich by outcome.",
		}, []string{"outcome"}),
		relayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "immich",
			Name:      "relay_duration_seconds",
			Help:      "Time taken for Immich to accept (or reject) an asset.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_requests_total",
			Help:      "Upload requests handled, by source and outcome.",
		}, []string{"source", "outcome"}),
		sweptWorkspaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "workspaces_removed_total",
			Help:      "Stale acquisition workspaces removed by the sweeper.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.toolInvocations, m.toolDuration, m.acquisitions,
		m.relays, m.relayDuration, m.uploads, m.sweptWorkspaces,
	)

	return m
}

// Handler returns an HTTP handler exposing the collected metrics
// in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordToolInvocation(tool string, outcome string, duration time.Duration) {
	m.toolInvocations.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (m *Metrics) RecordAcquisition(outcome string) {
	m.acquisitions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRelay(outcome string, duration time.Duration) {
	m.relays.WithLabelValues(outcome).Inc()
	m.relayDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordUpload(source string, outcome string) {
	m.uploads.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordSweep(removed int) {
	m.sweptWorkspaces.Add(float64(removed))
}
