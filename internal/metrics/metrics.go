// Package metrics exposes the core's Prometheus counters. All metric
// writes are fire-and-forget; nothing here affects the primary operation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntityFiltered counts rejected entity candidates by filter reason.
	EntityFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus_memory",
		Subsystem: "extract",
		Name:      "entity_filtered_total",
		Help:      "Entity candidates rejected during extraction, by reason.",
	}, []string{"reason"})

	// SagaOutcomes counts completed sagas by name and outcome.
	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus_memory",
		Subsystem: "saga",
		Name:      "outcomes_total",
		Help:      "Saga completions by outcome (committed, rolled_back, intervention).",
	}, []string{"saga", "outcome"})

	// CompensationFailures counts compensate calls that failed and left
	// residue behind.
	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus_memory",
		Subsystem: "saga",
		Name:      "compensation_failures_total",
		Help:      "Failed compensating transactions requiring manual cleanup.",
	})

	// RecallDegradations counts recalls that fell back a stage
	// (vector, graph_bucket, text, empty).
	RecallDegradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus_memory",
		Subsystem: "recall",
		Name:      "degradations_total",
		Help:      "Recall operations that degraded to a fallback lane.",
	}, []string{"stage"})

	// EmbeddingCacheLookups counts embedding cache hits and misses.
	EmbeddingCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus_memory",
		Subsystem: "embedding",
		Name:      "cache_lookups_total",
		Help:      "Embedding cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	// Duplicates counts dedup short-circuits on episode writes.
	Duplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus_memory",
		Subsystem: "episode",
		Name:      "duplicates_total",
		Help:      "Episode writes short-circuited by content-hash dedup.",
	})

	// HTTPRequests counts served requests by method and status class.
	// No per-path label: ids in routes would blow up cardinality.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus_memory",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by method and status class.",
	}, []string{"method", "status_class"})
)
