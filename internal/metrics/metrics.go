package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbiter_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Arbitration metrics
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_messages_ingested_total",
			Help: "Total messages accepted for arbitration",
		},
		[]string{"mode"}, // "normal" or "collective"
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_decisions_total",
			Help: "Participant decisions by tag and reason",
		},
		[]string{"tag", "reason"},
	)

	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_outcomes_total",
			Help: "Committed arbitration outcomes",
		},
		[]string{"status", "reason"},
	)

	ArbitrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbiter_arbitration_duration_seconds",
			Help:    "Time from evaluation start to commit",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	EvaluatorLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbiter_evaluator_latency_seconds",
			Help:    "Confidence evaluator call latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	LateDecisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arbiter_late_decisions_total",
			Help: "Decisions received after the outcome was committed",
		},
	)

	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_dispatches_total",
			Help: "Response dispatch attempts",
		},
		[]string{"result"}, // "sent", "duplicate", "suppressed", "error"
	)

	LedgerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arbiter_ledger_retries_total",
			Help: "Ledger write attempts that were retried",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbiter_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbiter_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
