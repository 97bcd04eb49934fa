package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartTotalsRecomputedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_totals_recomputed_total",
		Help: "Total number of cart totals recomputations",
	})

	CartTotalsPersistFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_totals_persist_failed_total",
		Help: "Total number of cart totals that could not be written",
	})

	CartTotalsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cart_totals_latency_seconds",
		Help:    "Latency of load, calculate and persist of cart totals",
		Buckets: prometheus.DefBuckets,
	})

	CartSchemaFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_schema_fallback_total",
		Help: "Total number of ORM calls recovered through the raw SQL fallback",
	}, []string{"operation"})

	CartMalformedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_malformed_lines_total",
		Help: "Total number of cart lines skipped during totals calculation",
	})

	CartsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_created_total",
		Help: "Total number of active carts created",
	})

	CartsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_completed_total",
		Help: "Total number of carts completed by checkout",
	})

	CartsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_expired_total",
		Help: "Total number of abandoned carts expired",
	})

	EventHandleRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_handle_retries_total",
		Help: "Total number of failed message handler attempts that were retried",
	}, []string{"topic"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Total number of unprocessable messages committed without effect",
	}, []string{"topic"})

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
