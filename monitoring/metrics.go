// Package monitoring provides metrics and observability for the RSS feed poller
package monitoring

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed fetching metrics
	feedFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_feed_fetch_total",
			Help: "Total number of RSS feed fetch attempts",
		},
		[]string{"status"},
	)

	feedFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rss_feed_fetch_duration_seconds",
			Help:    "Duration of RSS feed fetch operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	feedParseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_feed_parse_total",
			Help: "Total number of feed parse attempts by strategy",
		},
		[]string{"strategy", "status"},
	)

	feedItemsCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rss_feed_items_count",
			Help:    "Number of items in parsed feeds",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Poll pipeline metrics
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_polls_total",
			Help: "Total number of feed poll requests by outcome",
		},
		[]string{"outcome"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rss_poll_duration_seconds",
			Help:    "Duration of a full feed poll cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	subscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_subscriptions_processed_total",
			Help: "Total number of subscriptions processed by outcome",
		},
		[]string{"outcome"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_items_total",
			Help: "Total number of feed items by classification",
		},
		[]string{"classification"},
	)

	// Downstream task metrics
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_tasks_total",
			Help: "Total number of downstream tasks created",
		},
		[]string{"kind", "status"},
	)

	taskRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rss_fetch_content_task_recipients",
			Help:    "Number of recipients carried by one coalesced fetch-content task",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500},
		},
	)

	backendUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_backend_updates_total",
			Help: "Total number of subscription update mutations",
		},
		[]string{"status"},
	)

	// Failure tracking metrics
	feedFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rss_feed_failures_total",
			Help: "Total number of recorded feed failures",
		},
	)

	blockedPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rss_blocked_polls_total",
			Help: "Total number of polls skipped because the feed is blocked",
		},
	)

	// Store metrics
	storeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_store_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"operation", "status"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rss_store_operation_duration_seconds",
			Help:    "Duration of key-value store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rss_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rss_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

// running totals read by the alert rules
var (
	fetchAttempts atomic.Int64
	fetchFailures atomic.Int64
	storeAttempts atomic.Int64
	storeFailures atomic.Int64
)

// RecordFeedFetch records metrics for RSS feed fetching
func RecordFeedFetch(status string, duration float64) {
	feedFetchTotal.WithLabelValues(status).Inc()
	feedFetchDuration.WithLabelValues(status).Observe(duration)

	fetchAttempts.Add(1)
	if status != "success" {
		fetchFailures.Add(1)
	}
}

// RecordFeedParse records the outcome of parsing a feed with a strategy
func RecordFeedParse(strategy, status string, itemsCount int) {
	feedParseTotal.WithLabelValues(strategy, status).Inc()
	if itemsCount >= 0 {
		feedItemsCount.Observe(float64(itemsCount))
	}
}

// RecordPoll records the outcome of one poll cycle
func RecordPoll(outcome string, duration float64) {
	pollsTotal.WithLabelValues(outcome).Inc()
	pollDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordSubscription records the outcome of processing one subscription
func RecordSubscription(outcome string) {
	subscriptionsTotal.WithLabelValues(outcome).Inc()
}

// RecordItem records how a feed item was classified
func RecordItem(classification string) {
	itemsTotal.WithLabelValues(classification).Inc()
}

// RecordTask records a downstream task creation attempt
func RecordTask(kind, status string) {
	tasksTotal.WithLabelValues(kind, status).Inc()
}

// RecordTaskRecipients records the fan-out size of a coalesced task
func RecordTaskRecipients(count int) {
	taskRecipients.Observe(float64(count))
}

// RecordBackendUpdate records a subscription update mutation result
func RecordBackendUpdate(status string) {
	backendUpdatesTotal.WithLabelValues(status).Inc()
}

// RecordFeedFailure records an increment of a feed failure counter
func RecordFeedFailure() {
	feedFailuresTotal.Inc()
}

// RecordBlockedPoll records a poll skipped by the blacklist
func RecordBlockedPoll() {
	blockedPollsTotal.Inc()
}

// RecordStoreOperation records key-value store operation metrics
func RecordStoreOperation(operation, status string, duration float64) {
	storeOperations.WithLabelValues(operation, status).Inc()
	storeOperationDuration.WithLabelValues(operation, status).Observe(duration)

	storeAttempts.Add(1)
	if status != "success" {
		storeFailures.Add(1)
	}
}

// SetCircuitBreakerState sets the current state gauge of a breaker
func SetCircuitBreakerState(name string, state float64) {
	circuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordCircuitBreakerTransition records a breaker state change
func RecordCircuitBreakerTransition(name, from, to string) {
	circuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration)
}

// FetchCounts returns the running totals of fetch attempts and failures
func FetchCounts() (attempts, failures int64) {
	return fetchAttempts.Load(), fetchFailures.Load()
}

// StoreCounts returns the running totals of store operations and failures
func StoreCounts() (attempts, failures int64) {
	return storeAttempts.Load(), storeFailures.Load()
}
