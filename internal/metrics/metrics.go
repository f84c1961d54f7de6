// Package metrics declares the Prometheus collectors shared by the brain
// components. They register on the default registry, which /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "brain"

var (
	// LLMRequests counts calls to the completion and embedding services.
	// Labels: op (complete, embed), result (ok, rate_limited, error)
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of remote model requests",
		},
		[]string{"op", "result"},
	)

	// LLMDuration tracks remote model latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of remote model requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Retries counts backoff sleeps taken by retry policies.
	// Labels: caller
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "backoffs_total",
			Help:      "Total number of retry backoffs",
		},
		[]string{"caller"},
	)

	// DigestsCreated counts stored conversation digests by type.
	DigestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "created_total",
			Help:      "Total number of conversation digests created",
		},
		[]string{"type"},
	)

	// KnowledgeItemsCreated counts stored, embedded knowledge items by source type.
	KnowledgeItemsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knowledge",
			Name:      "items_created_total",
			Help:      "Total number of knowledge items inserted",
		},
		[]string{"source"},
	)

	// KnowledgeItemsSkipped counts drafts that were not stored, or stored
	// without an embedding.
	// Labels: reason (embed, insert, empty)
	KnowledgeItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knowledge",
			Name:      "items_skipped_total",
			Help:      "Total number of knowledge drafts skipped or left unembedded",
		},
		[]string{"reason"},
	)

	// Retrievals counts semantic searches.
	// Labels: backend, outcome (hit, empty)
	Retrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Total number of semantic searches",
		},
		[]string{"backend", "outcome"},
	)

	// ActionTransitions counts state machine transitions.
	// Labels: to (pending, confirmed, rejected, executed)
	ActionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "action",
			Name:      "transitions_total",
			Help:      "Total number of action state transitions",
		},
		[]string{"to"},
	)

	// ActionExtractions counts how candidate actions were produced.
	// Labels: source (llm, deterministic, none)
	ActionExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "action",
			Name:      "extractions_total",
			Help:      "Total number of action extractions by source",
		},
		[]string{"source"},
	)
)
