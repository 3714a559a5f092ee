// Package metrics holds the Prometheus collectors of the indexer.
// Collectors register with the default registry on package init and are
// served by promhttp on the metrics path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "indexer"

// Orchestrator
var (
	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "job_transitions_total",
		Help:      "Total number of job status transitions by target status",
	}, []string{"status"})

	ProgressUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "progress_updates_total",
		Help:      "Total number of job progress updates accepted",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "events_published_total",
		Help:      "Total number of job events published by type",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "events_dropped_total",
		Help:      "Total number of job events dropped by type and reason (timeout, closed)",
	}, []string{"type", "reason"})

	QueuedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "queued_jobs",
		Help:      "Current number of job ids waiting in the priority queue",
	})
)

// Worker
var (
	BlocksIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "blocks_indexed_total",
		Help:      "Total number of blocks scanned by chain",
	}, []string{"chain"})

	TransactionsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "transactions_indexed_total",
		Help:      "Total number of wallet transactions stored by chain and category",
	}, []string{"chain", "category"})

	DuplicateTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "duplicate_transactions_total",
		Help:      "Total number of transactions skipped because they were already stored",
	}, []string{"chain"})

	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one block batch including fetch, decode and store",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"chain"})

	RunningWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "running",
		Help:      "Current number of workers driving a job",
	})
)

// Decoder
var (
	UnknownSelectors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "unknown_selectors_total",
		Help:      "Total number of transactions whose selector had no signature",
	})

	SignatureLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "signature_lookups_total",
		Help:      "Total number of external signature lookups by result",
	}, []string{"result"})
)

// RPC endpoints
var (
	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total number of endpoint calls by chain and result",
	}, []string{"chain", "result"})

	RPCBackoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "backoffs_total",
		Help:      "Total number of times an endpoint was put into backoff",
	}, []string{"chain"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Duration of endpoint calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain"})
)

// Broadcaster
var (
	BroadcastMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcaster",
		Name:      "messages_total",
		Help:      "Total number of wallet messages by type and delivery (live, queued, stale)",
	}, []string{"type", "delivery"})

	QueueFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcaster",
		Name:      "queue_flushes_total",
		Help:      "Total number of offline queues flushed to a connecting subscriber",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broadcaster",
		Name:      "subscribers",
		Help:      "Current number of live websocket subscribers",
	})

	SlowClientDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcaster",
		Name:      "slow_client_disconnects_total",
		Help:      "Total number of subscribers disconnected because their send buffer was full",
	})
)

// HTTP
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by method and status code",
	}, []string{"method", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)
