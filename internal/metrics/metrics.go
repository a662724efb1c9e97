// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection state values reported by RoomConnectionState.
const (
	StateConnecting   = 0
	StateConnected    = 1
	StateDisconnected = 2
	StateError        = 3
)

var (
	// Connection Metrics
	RoomConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roomsync_connection_state",
			Help: "Room connection state (0=connecting, 1=connected, 2=disconnected, 3=error)",
		},
		[]string{"room_id"},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_reconnect_attempts_total",
			Help: "Total number of subscription attempts after the first",
		},
		[]string{"trigger"}, // "retry", "manual", "forced"
	)

	ConnectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_connection_errors_total",
			Help: "Total number of sessions that entered the terminal error state",
		},
		[]string{"reason"}, // "retries_exhausted", "channel_error"
	)

	HeartbeatFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_heartbeat_failures_total",
			Help: "Total number of heartbeats that could not be sent",
		},
	)

	LivenessPings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_liveness_pings_total",
			Help: "Total number of idle-connection store pings",
		},
		[]string{"result"}, // "success", "failure"
	)

	// Reconciler Metrics
	MessagesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_messages_applied_total",
			Help: "Total number of messages appended to a local room view",
		},
		[]string{"source"}, // "bulk", "event"
	)

	MessagesDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_messages_deduplicated_total",
			Help: "Total number of messages discarded as duplicates",
		},
		[]string{"reason"}, // "id", "idempotency_key", "content", "sweep"
	)

	BulkLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomsync_bulk_load_duration_seconds",
			Help:    "Duration of the initial transcript load on room entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dispatch Metrics
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_dispatches_total",
			Help: "Total number of chat messages classified for the assistant, by outcome",
		},
		[]string{"outcome"}, // "dispatched", "blocked", "failed", "not_permitted", "no_video"
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomsync_analysis_duration_seconds",
			Help:    "Duration of analysis service calls",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"result"},
	)

	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomsync_store_operation_duration_seconds",
			Help:    "Duration of session store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_store_operation_errors_total",
			Help: "Total number of failed session store operations",
		},
		[]string{"operation"},
	)

	ProfileCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_profile_cache_lookups_total",
			Help: "Profile cache lookups by tier and result",
		},
		[]string{"tier", "result"}, // tier: "local", "redis"; result: "hit", "miss"
	)

	ProfileCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_profile_cache_entries",
			Help: "Profiles held in the in-process cache tier",
		},
	)

	ProfileCacheExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_profile_cache_expired_total",
			Help: "Expired profiles dropped from the in-process cache tier",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Authorization Metrics
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_authz_decisions_total",
			Help: "Room permission checks by role, action and decision",
		},
		[]string{"role", "action", "decision"}, // decision: "allow", "deny"
	)

	// Transport Metrics
	TransportEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_transport_events_total",
			Help: "Events received from the realtime transport",
		},
		[]string{"transport", "kind"},
	)

	TransportEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_transport_events_dropped_total",
			Help: "Events dropped because they could not be decoded",
		},
		[]string{"transport"},
	)

	// Control API Metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_api_requests_total",
			Help: "Control API requests by route pattern, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomsync_api_request_duration_seconds",
			Help:    "Control API request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"route", "method"},
	)
)

// SetConnectionState records the connection state of a room.
func SetConnectionState(roomID string, state int) {
	RoomConnectionState.WithLabelValues(roomID).Set(float64(state))
}

// RecordStoreOperation records the duration and outcome of a store call.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAnalysis records the duration and result of an analysis call.
func RecordAnalysis(duration time.Duration, result string) {
	AnalysisDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordDedup counts a discarded duplicate.
func RecordDedup(reason string) {
	MessagesDeduplicated.WithLabelValues(reason).Inc()
}

// RecordApplied counts messages added to a local view.
func RecordApplied(source string, n int) {
	if n > 0 {
		MessagesApplied.WithLabelValues(source).Add(float64(n))
	}
}

// RecordDispatch counts a dispatch outcome.
func RecordDispatch(outcome string) {
	Dispatches.WithLabelValues(outcome).Inc()
}

// RecordProfileLookup counts a profile cache lookup.
func RecordProfileLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ProfileCacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordProfileCacheSweep records the outcome of a local cache sweep.
func RecordProfileCacheSweep(expired, size int) {
	ProfileCacheExpired.Add(float64(expired))
	ProfileCacheEntries.Set(float64(size))
}

// RecordAPIRequest records one served control API request.
func RecordAPIRequest(route, method string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
