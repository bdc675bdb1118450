// Package metrics exposes Prometheus counters/histograms/gauges for the
// streaming and task-queue subsystems, grounded on the teacher's
// promauto-based metrics registry (same library, same package shape:
// package-level vars built with promauto so registration happens on
// import, Record* helpers so call sites never touch label plumbing
// directly).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	StreamsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcore_streams_created_total",
			Help: "Total number of streams created",
		},
	)

	StreamsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_streams_completed_total",
			Help: "Total number of streams that reached a terminal status",
		},
		[]string{"status"}, // completed, cancelled, error
	)

	StreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamcore_stream_duration_seconds",
			Help:    "Stream lifetime from creation to terminal status, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StreamEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_stream_events_total",
			Help: "Total number of events appended to a stream's buffer",
		},
		[]string{"event_type"},
	)

	StreamBufferOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcore_stream_buffer_overflows_total",
			Help: "Total number of times a stream's ring buffer evicted an unread event",
		},
	)

	// Client connection metrics
	ClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamcore_clients_connected",
			Help: "Number of clients currently attached to a stream",
		},
	)

	ClientReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_client_reconnects_total",
			Help: "Total number of client reconnects that supplied a resume offset",
		},
		[]string{"result"}, // recovered, gap, rejected
	)

	ClientsDisconnected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_clients_disconnected_total",
			Help: "Total number of client disconnects",
		},
		[]string{"reason"},
	)

	// Task queue metrics
	TasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcore_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_tasks_completed_total",
			Help: "Total number of tasks that finished executing",
		},
		[]string{"status"}, // completed, failed
	)

	TaskExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamcore_task_execution_duration_seconds",
			Help:    "Task execution duration including retries, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcore_task_retries_total",
			Help: "Total number of task execution retries",
		},
	)

	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamcore_task_queue_depth",
			Help: "Number of tasks currently pending or running in the queue",
		},
	)

	// Agent adapter metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_tool_calls_total",
			Help: "Total number of tool calls made by the agent adapter",
		},
		[]string{"tool_name", "result"}, // result: success, error, denied
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamcore_provider_latency_seconds",
			Help:    "Latency of a provider streaming chat call, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	CompressionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_compression_events_total",
			Help: "Total number of context compression events",
		},
		[]string{"status"}, // triggered, skipped
	)

	// Policy gate metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_policy_decisions_total",
			Help: "Total number of tool-call policy decisions",
		},
		[]string{"decision"}, // allow, deny
	)

	// Rate limiter metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_rate_limit_rejections_total",
			Help: "Total number of requests rejected by a rate limiter",
		},
		[]string{"limiter"}, // connect, distributed
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_cache_hits_total",
			Help: "Total number of resource cache hits",
		},
		[]string{"kind"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_cache_misses_total",
			Help: "Total number of resource cache misses",
		},
		[]string{"kind"},
	)
)

// RecordStreamTerminal records a stream reaching a terminal status along
// with its total lifetime.
func RecordStreamTerminal(status string, durationSeconds float64) {
	StreamsCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		StreamDuration.Observe(durationSeconds)
	}
}

// RecordToolCall records the outcome of a single tool invocation.
func RecordToolCall(toolName, result string) {
	ToolCalls.WithLabelValues(toolName, result).Inc()
}

// RecordTaskTerminal records a task reaching a terminal status, its total
// duration, and how many retries it took.
func RecordTaskTerminal(status string, durationSeconds float64, retries int) {
	TasksCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		TaskExecutionDuration.Observe(durationSeconds)
	}
	if retries > 0 {
		TaskRetries.Add(float64(retries))
	}
}

// RecordPolicyDecision records whether a tool call was allowed or denied.
func RecordPolicyDecision(allowed bool) {
	if allowed {
		PolicyDecisions.WithLabelValues("allow").Inc()
	} else {
		PolicyDecisions.WithLabelValues("deny").Inc()
	}
}

// RecordRateLimitRejection records a request rejected by the named
// limiter ("connect" or "distributed").
func RecordRateLimitRejection(limiter string) {
	RateLimitRejections.WithLabelValues(limiter).Inc()
}
