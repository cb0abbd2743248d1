// Package metrics exposes the Prometheus collectors shared by all stage
// workers. Collectors register on the default registry; each worker binary
// serves them on its /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed counts handler outcomes per stage.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grievance_pipeline",
		Name:      "messages_processed_total",
		Help:      "Messages processed per stage, labeled by outcome.",
	}, []string{"stage", "outcome"})

	// PoisonMessages counts malformed payloads quarantined per stage.
	PoisonMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grievance_pipeline",
		Name:      "poison_messages_total",
		Help:      "Malformed messages deleted without processing.",
	}, []string{"stage"})

	// MisroutedMessages counts status-gate deletions per stage.
	MisroutedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grievance_pipeline",
		Name:      "misrouted_messages_total",
		Help:      "Messages deleted because their status tag names another stage.",
	}, []string{"stage"})

	// HandlerDuration observes handler wall time per stage.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grievance_pipeline",
		Name:      "handler_duration_seconds",
		Help:      "Stage handler duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"stage"})

	// QueueDepth reports ready messages per queue, sampled by the workers.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "grievance_pipeline",
		Name:      "queue_depth",
		Help:      "Ready messages per queue.",
	}, []string{"queue"})

	// JobsRequeued counts janitor recoveries per job table and prior status.
	JobsRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grievance_pipeline",
		Name:      "jobs_requeued_total",
		Help:      "Jobs returned to pending by the janitor.",
	}, []string{"table", "from_status"})

	// PatternCache counts research pattern cache hits and misses.
	PatternCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grievance_pipeline",
		Name:      "pattern_cache_total",
		Help:      "Pattern cache lookups, labeled hit or miss.",
	}, []string{"result"})
)
