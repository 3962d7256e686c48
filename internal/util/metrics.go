package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of committed order transitions",
	}, []string{"from", "to"})

	TransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of rejected order transitions",
	}, []string{"reason"})

	TransitionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_transition_latency_seconds",
		Help:    "Latency of the full transition pipeline",
		Buckets: prometheus.DefBuckets,
	})

	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Total number of ledger entries appended",
	}, []string{"ledger", "type"})

	LedgerReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_idempotent_replays_total",
		Help: "Total number of ledger operations collapsed by idempotency key",
	}, []string{"ledger"})

	StockRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_rejections_total",
		Help: "Total number of stock movements rejected for insufficient stock",
	})

	LockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lock_wait_seconds",
		Help:    "Time spent waiting for per-key locks",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	LockTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_timeouts_total",
		Help: "Total number of lock acquisitions that timed out",
	}, []string{"backend"})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_connections_active",
		Help: "Number of live notification connections",
	})

	NotificationsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_delivered_total",
		Help: "Total number of events delivered to connections",
	}, []string{"class"})

	NotificationsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dropped_total",
		Help: "Total number of events dropped",
	}, []string{"reason"})

	ExternalPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "external_publish_failed_total",
		Help: "Total number of status events that failed to reach the message broker",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
