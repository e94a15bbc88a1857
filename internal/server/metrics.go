package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest failure reasons used as the "reason" label.
const (
	reasonUnauthorized = "signature"
	reasonBadRequest   = "bad_request"
	reasonBadReport    = "junit"
	reasonBusy         = "busy"
	reasonStorage      = "storage"
	reasonLookup       = "commit_lookup"
)

// Metrics are the service's Prometheus collectors. Each server owns its own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	BuildsRecorded *prometheus.CounterVec
	BuildsSkipped  *prometheus.CounterVec
	Regressions    *prometheus.CounterVec
	IngestFailures *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	IngestDuration prometheus.Histogram
	NodesPerBuild  prometheus.Histogram
}

// NewMetrics registers the service collectors, plus the Go runtime and
// process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BuildsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teststability_builds_recorded_total",
			Help: "Builds recorded, by job",
		}, []string{"job"}),
		BuildsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teststability_builds_skipped_total",
			Help: "Builds skipped by a job's ignore rules, by job",
		}, []string{"job"}),
		Regressions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teststability_regressions_total",
			Help: "Test cases that passed in the previous build and failed in the recorded one",
		}, []string{"job"}),
		IngestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teststability_ingest_failures_total",
			Help: "Rejected or failed build submissions, by reason",
		}, []string{"reason"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teststability_record_decode_errors_total",
			Help: "Stored test records that could not be decoded, by job",
		}, []string{"job"}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "teststability_ingest_duration_seconds",
			Help:    "Time to record and store one build",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		NodesPerBuild: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "teststability_nodes_per_build",
			Help:    "Test nodes recorded per build, including suites and classes",
			Buckets: prometheus.ExponentialBuckets(10, 4, 6),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
