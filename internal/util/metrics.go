package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levelup_orders_created_total",
		Help: "Total number of orders created",
	}, []string{"kind"})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levelup_orders_rejected_total",
		Help: "Total number of order operations rejected by validation",
	}, []string{"kind", "reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levelup_order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"kind", "to"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levelup_orders_cancelled_total",
		Help: "Total number of orders cancelled or rejected with restitution",
	}, []string{"kind"})

	PointsMovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levelup_points_moved_total",
		Help: "Total points appended to the ledger by entry kind",
	}, []string{"kind"})

	GatewayFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "levelup_gateway_fallbacks_total",
		Help: "Total number of times a storage backend failed and the next one was tried",
	}, []string{"backend", "op"})

	GatewaySeedBootstrapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "levelup_gateway_seed_bootstraps_total",
		Help: "Total number of collections bootstrapped from seed documents",
	})

	GatewayCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "levelup_gateway_commit_latency_seconds",
		Help:    "Latency of gateway batch commits",
		Buckets: prometheus.DefBuckets,
	})

	SequenceFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "levelup_sequence_fallbacks_total",
		Help: "Total number of order numbers derived from a timestamp",
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
