// Package metrics exposes Prometheus collectors for the pipeline: per-stage
// job counts and durations, queue depth gauges, and reasoning/embedding
// call outcomes. Every stage worker shares the one Registry; cmd/*-worker
// entrypoints mount Handler() on their own listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const namespace = "dtcpipe"

var (
	Registry = prometheus.NewRegistry()

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "jobs_processed_total",
			Help:      "Total jobs popped and processed by a stage, by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Time spent processing a single job within a stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7m
		},
		[]string{"stage"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Last observed pending message count for a queue.",
		},
		[]string{"queue"},
	)

	ReasoningCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "calls_total",
			Help:      "Total LLM reasoning calls, by stage and outcome (ok|error|parse_fallback).",
		},
		[]string{"stage", "outcome"},
	)

	ReasoningDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "call_duration_seconds",
			Help:      "Latency of LLM reasoning calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"stage"},
	)

	EmbeddingCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Total embedding calls, by outcome.",
		},
		[]string{"outcome"},
	)

	ResolveRunEntities = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "run_entities_affected",
			Help:      "Number of entities touched per resolve run.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"entity_table"},
	)

	ConflictsFlagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "conflicts_flagged_total",
			Help:      "Total entities whose conflict_flag was set during a resolve run.",
		},
		[]string{"entity_table"},
	)
)

func init() {
	Registry.MustRegister(
		JobsProcessed,
		JobDuration,
		QueueDepth,
		ReasoningCalls,
		ReasoningDuration,
		EmbeddingCalls,
		ResolveRunEntities,
		ConflictsFlagged,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors in Prometheus text format.
func Handler() http.Handler {
	return otelhttp.NewHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}), "metrics.scrape")
}

// ObserveJob records a stage's outcome and wall-clock duration for one job.
func ObserveJob(stage, outcome string, duration time.Duration) {
	JobsProcessed.WithLabelValues(stage, outcome).Inc()
	JobDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveReasoningCall records an LLM call's outcome and latency.
func ObserveReasoningCall(stage, outcome string, duration time.Duration) {
	ReasoningCalls.WithLabelValues(stage, outcome).Inc()
	ReasoningDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveEmbeddingCall records an embedding call's outcome.
func ObserveEmbeddingCall(outcome string) {
	EmbeddingCalls.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the last polled pending count for a queue.
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveResolveRun records the size and conflict count of a resolve run for
// one entity table.
func ObserveResolveRun(entityTable string, entitiesAffected, conflicts int) {
	ResolveRunEntities.WithLabelValues(entityTable).Observe(float64(entitiesAffected))
	if conflicts > 0 {
		ConflictsFlagged.WithLabelValues(entityTable).Add(float64(conflicts))
	}
}
