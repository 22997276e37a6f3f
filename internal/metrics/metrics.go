// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

// Package metrics provides Prometheus instrumentation for the sync pipeline:
// upstream session health, change-stream progress, queue pressure, fetch and
// store performance, and persister outcomes. Collectors are registered on the
// default registry and exposed via /metrics on the health server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream session metrics
	SessionConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steam_session_connected",
			Help: "1 when the upstream session is connected, 0 otherwise",
		},
	)

	SessionReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steam_session_reconnects_total",
			Help: "Total number of reconnect attempts to the upstream session",
		},
	)

	SessionHeartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steam_session_heartbeats_total",
			Help: "Total heartbeat calls issued to keep the session alive",
		},
		[]string{"result"}, // "ok", "error"
	)

	// Change stream metrics
	ChangeNumber = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pics_change_number",
			Help: "Last change number persisted to the sync state cursor",
		},
	)

	ChangesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_changes_received_total",
			Help: "Total app change notifications received from the change stream",
		},
	)

	ChangePolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pics_change_polls_total",
			Help: "Total change-stream polls by outcome",
		},
		[]string{"result"}, // "fresh", "stale", "empty", "error"
	)

	// Work queue metrics
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pics_queue_size",
			Help: "Current number of appids waiting in the work queue",
		},
	)

	QueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_queue_dropped_total",
			Help: "Total appids dropped because the work queue was full",
		},
	)

	QueueRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_queue_requeued_total",
			Help: "Total appids re-enqueued after a whole-batch failure",
		},
	)

	ProcessingSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pics_processing_size",
			Help: "Current number of appids marked as in-flight",
		},
	)

	// Fetcher metrics
	FetchBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pics_fetch_batches_total",
			Help: "Total product-info batch fetches by outcome",
		},
		[]string{"result"}, // "ok", "error"
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_fetch_retries_total",
			Help: "Total product-info fetch retries",
		},
	)

	AppsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_apps_fetched_total",
			Help: "Total raw app records received from product-info calls",
		},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pics_fetch_duration_seconds",
			Help:    "Duration of product-info batch fetches in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Store metrics
	StoreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_requests_total",
			Help: "Total PostgREST requests by operation and HTTP status",
		},
		[]string{"operation", "status"},
	)

	StoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_request_duration_seconds",
			Help:    "Duration of PostgREST requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Persister metrics
	AppsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pics_apps_upserted_total",
			Help: "Total apps handled by the persister by result",
		},
		[]string{"result"}, // "updated", "failed", "skipped", "build_failure"
	)

	RelationSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pics_relation_sync_failures_total",
			Help: "Total per-app relation sync failures by relation",
		},
		[]string{"relation"}, // "steam_deck", "categories", "genres", "tags", "franchises", "dlc"
	)

	SyncMarks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_sync_marks_total",
			Help: "Total apps whose last_pics_sync marker was advanced",
		},
	)

	// Bulk backfill metrics
	BackfillProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_backfill_processed_total",
			Help: "Total apps processed by the bulk backfill",
		},
	)

	BackfillFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pics_backfill_failed_total",
			Help: "Total apps that failed during the bulk backfill",
		},
	)

	BackfillProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pics_backfill_progress_percent",
			Help: "Bulk backfill progress percentage",
		},
	)

	// Change event publishing metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pics_events_published_total",
			Help: "Total change events published by outcome",
		},
		[]string{"result"}, // "ok", "error"
	)

	// Health API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)
)

// SetSessionConnected records the upstream session state.
func SetSessionConnected(connected bool) {
	if connected {
		SessionConnected.Set(1)
	} else {
		SessionConnected.Set(0)
	}
}

// RecordSessionReconnect counts one reconnect attempt.
func RecordSessionReconnect() {
	SessionReconnects.Inc()
}

// RecordHeartbeat records a heartbeat call outcome.
func RecordHeartbeat(err error) {
	if err != nil {
		SessionHeartbeats.WithLabelValues("error").Inc()
		return
	}
	SessionHeartbeats.WithLabelValues("ok").Inc()
}

// SetChangeNumber records the persisted change cursor.
func SetChangeNumber(n uint64) {
	ChangeNumber.Set(float64(n))
}

// RecordChangePoll records one change-stream poll outcome.
func RecordChangePoll(result string) {
	ChangePolls.WithLabelValues(result).Inc()
}

// RecordChangesReceived counts app change notifications.
func RecordChangesReceived(n int) {
	ChangesReceived.Add(float64(n))
}

// SetQueueSize records the current queue depth.
func SetQueueSize(n int) {
	QueueSize.Set(float64(n))
}

// RecordQueueDropped counts appids rejected by a full queue.
func RecordQueueDropped(n int) {
	QueueDropped.Add(float64(n))
}

// RecordQueueRequeued counts appids pushed back after a batch failure.
func RecordQueueRequeued(n int) {
	QueueRequeued.Add(float64(n))
}

// SetProcessingSize records the in-flight set size.
func SetProcessingSize(n int) {
	ProcessingSize.Set(float64(n))
}

// RecordFetchBatch records one product-info batch fetch.
func RecordFetchBatch(duration time.Duration, err error) {
	FetchDuration.Observe(duration.Seconds())
	if err != nil {
		FetchBatches.WithLabelValues("error").Inc()
		return
	}
	FetchBatches.WithLabelValues("ok").Inc()
}

// RecordFetchRetry counts one fetch retry.
func RecordFetchRetry() {
	FetchRetries.Inc()
}

// RecordAppsFetched counts raw app records received.
func RecordAppsFetched(n int) {
	AppsFetched.Add(float64(n))
}

// RecordStoreRequest records one PostgREST request.
func RecordStoreRequest(operation string, statusCode int, duration time.Duration) {
	StoreRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	StoreRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCircuitBreakerTransition records a breaker state change.
// State encoding matches gobreaker: 0 closed, 1 half-open, 2 open.
func RecordCircuitBreakerTransition(name, from, to string, state int) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordUpsertResults records persister outcome counts for one batch.
func RecordUpsertResults(updated, failed, skipped, buildFailures int) {
	AppsUpserted.WithLabelValues("updated").Add(float64(updated))
	AppsUpserted.WithLabelValues("failed").Add(float64(failed))
	AppsUpserted.WithLabelValues("skipped").Add(float64(skipped))
	AppsUpserted.WithLabelValues("build_failure").Add(float64(buildFailures))
}

// RecordRelationSyncFailure counts one relation sync sub-step failure.
func RecordRelationSyncFailure(relation string) {
	RelationSyncFailures.WithLabelValues(relation).Inc()
}

// RecordSyncMarks counts apps whose sync marker advanced.
func RecordSyncMarks(n int) {
	SyncMarks.Add(float64(n))
}

// RecordBackfill updates backfill counters and the progress gauge.
func RecordBackfill(processed, failed int, progressPct float64) {
	BackfillProcessed.Add(float64(processed))
	BackfillFailed.Add(float64(failed))
	BackfillProgress.Set(progressPct)
}

// RecordEventPublished records one change-event publish outcome.
func RecordEventPublished(err error) {
	if err != nil {
		EventsPublished.WithLabelValues("error").Inc()
		return
	}
	EventsPublished.WithLabelValues("ok").Inc()
}

// RecordAPIRequest records one health API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
