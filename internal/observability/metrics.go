package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP collectors. The route label is the registered pattern, never the raw
// path of a matched request, so ids do not become label values.
var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posbridge_http_requests_total",
			Help: "HTTP requests, by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration omits status; device traffic is dominated by a few routes.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posbridge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posbridge_http_requests_inflight",
			Help: "HTTP requests currently being served.",
		},
	)

	// HTTPResponseBytes uses 256B..4MiB buckets; order and menu payloads sit
	// well inside that range.
	HTTPResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posbridge_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"method", "route"},
	)
)

// ObserveHTTP records one finished request. A negative size means the body
// length is unknown (hijacked websocket) and is not observed.
func ObserveHTTP(method, route string, status, size int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	if size >= 0 {
		HTTPResponseBytes.WithLabelValues(method, route).Observe(float64(size))
	}
}

// Domain collectors. Label sets are fixed enumerations so cardinality stays
// bounded regardless of traffic.
var (
	// ReconcileRows counts change-log rows by outcome:
	// applied, claimed_elsewhere, missing_order, invalid_transition, error.
	ReconcileRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posbridge_reconcile_rows_total",
			Help: "Order change-log rows handled by the reconciler, by outcome.",
		},
		[]string{"outcome"},
	)

	// ReconcileCycles counts reconciliation cycles by result (ok, empty, error).
	ReconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posbridge_reconcile_cycles_total",
			Help: "Reconciliation cycles, by result.",
		},
		[]string{"result"},
	)

	// ReconcileStaleRows gauges change-log rows claimed but left in place
	// because they could not be applied.
	ReconcileStaleRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posbridge_reconcile_stale_rows",
			Help: "Processed change-log rows kept for operator attention.",
		},
	)

	// BroadcastEvents counts broadcast pipeline steps by stage
	// (persisted, persist_failed, delivered, delivery_failed, dropped).
	BroadcastEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posbridge_broadcast_events_total",
			Help: "Broadcast events by pipeline stage.",
		},
		[]string{"stage"},
	)

	// BroadcastQueueDepth gauges events waiting for a broadcaster worker.
	BroadcastQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posbridge_broadcast_queue_depth",
			Help: "Events enqueued and not yet picked up by a worker.",
		},
	)

	// PrintJobs counts print job transitions (created, acknowledged,
	// retrying, escalated, requeued, purged).
	PrintJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posbridge_print_jobs_total",
			Help: "Print job state transitions.",
		},
		[]string{"transition"},
	)

	// SessionCache counts session context lookups by result (hit, miss, failure).
	SessionCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posbridge_session_cache_total",
			Help: "Session context cache lookups, by result.",
		},
		[]string{"result"},
	)

	// RateLimitDenied counts requests rejected by the device quota, by
	// identity kind (device, anon).
	RateLimitDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posbridge_rate_limit_denied_total",
			Help: "Requests denied by the per-device rate limiter.",
		},
		[]string{"kind"},
	)

	// WSConnections gauges open websocket connections.
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posbridge_ws_connections",
			Help: "Open websocket connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests, HTTPDuration, HTTPInFlight, HTTPResponseBytes,
		ReconcileRows, ReconcileCycles, ReconcileStaleRows, BroadcastEvents, BroadcastQueueDepth,
		PrintJobs, SessionCache, RateLimitDenied, WSConnections,
	)
}
