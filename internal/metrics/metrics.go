package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmd_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_messages_received_total",
			Help: "Total envelopes accepted into the inbox",
		},
		[]string{"type"},
	)

	MessagesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_messages_duplicate_total",
			Help: "Total envelopes rejected as duplicate message_id",
		},
	)

	WakesTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_wakes_total",
			Help: "Total wake decisions, by outcome",
		},
		[]string{"decision"},
	)

	JoinsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_joins_total",
			Help: "Total join attempts, by outcome",
		},
		[]string{"outcome"},
	)

	KicksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_kicks_total",
			Help: "Total members kicked",
		},
	)

	OutboxDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_outbox_deliveries_total",
			Help: "Total outbound delivery attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmd_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	SQLiteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmd_sqlite_latency_seconds",
			Help:    "SQLite query latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
