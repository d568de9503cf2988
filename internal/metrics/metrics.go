// Package metrics defines the Prometheus collectors exported by depweaver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch results.
const (
	FetchOK               = "ok"
	FetchNotFound         = "not_found"
	FetchError            = "error"
	FetchChecksumMismatch = "checksum_mismatch"
)

// Incremental execution outcomes.
const (
	OutcomeHit  = "hit"
	OutcomeMiss = "miss"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	RepositoryFetchTotal    *prometheus.CounterVec
	RepositoryFetchDuration prometheus.Histogram

	ResolverNodesTotal     prometheus.Counter
	ResolverConflictsTotal prometheus.Counter
	ResolutionDuration     prometheus.Histogram

	IncrementalExecutionsTotal *prometheus.CounterVec
	IncrementalComputeDuration prometheus.Histogram
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RepositoryFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depweaver_repository_fetch_total",
				Help: "Number of repository file fetches by result.",
			},
			[]string{"result"},
		),
		RepositoryFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "depweaver_repository_fetch_duration_seconds",
				Help:    "Time taken to fetch a file from a repository.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ResolverNodesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "depweaver_resolver_nodes_total",
				Help: "Total number of dependency nodes expanded.",
			},
		),
		ResolverConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "depweaver_resolver_conflicts_total",
				Help: "Total number of version conflicts resolved.",
			},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "depweaver_resolver_resolution_duration_seconds",
				Help:    "Time taken to resolve a set of root coordinates.",
				Buckets: prometheus.DefBuckets,
			},
		),
		IncrementalExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depweaver_incremental_executions_total",
				Help: "Number of incremental executions by outcome.",
			},
			[]string{"outcome"},
		),
		IncrementalComputeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "depweaver_incremental_compute_duration_seconds",
				Help:    "Time taken by computations that were not served from cache.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.RepositoryFetchTotal,
			m.RepositoryFetchDuration,
			m.ResolverNodesTotal,
			m.ResolverConflictsTotal,
			m.ResolutionDuration,
			m.IncrementalExecutionsTotal,
			m.IncrementalComputeDuration,
		)
	}
	return m
}

func (m *Metrics) ObserveFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RepositoryFetchTotal.WithLabelValues(result).Inc()
	m.RepositoryFetchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveResolution(nodes, conflicts int, d time.Duration) {
	if m == nil {
		return
	}
	m.ResolverNodesTotal.Add(float64(nodes))
	m.ResolverConflictsTotal.Add(float64(conflicts))
	m.ResolutionDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveExecution(outcome string) {
	if m == nil {
		return
	}
	m.IncrementalExecutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCompute(d time.Duration) {
	if m == nil {
		return
	}
	m.IncrementalComputeDuration.Observe(d.Seconds())
}
