package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_events_ingested_total",
			Help: "Total number of events accepted, rejected or deduplicated at ingestion (count)",
		},
		[]string{"status"},
	)

	ProcessingAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_processing_attempts_total",
			Help: "Total number of processing attempts by outcome (count)",
		},
		[]string{"status"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventhub_processing_duration_ms",
			Help:    "Handler processing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	EventsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventhub_events_by_status",
			Help: "Number of stored events per lifecycle status (count)",
		},
		[]string{"status"},
	)

	RetrySweepClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_retry_sweep_claims_total",
			Help: "Events claimed (or lost to another scheduler) during retry sweeps (count)",
		},
		[]string{"result"},
	)

	RetrySweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventhub_retry_sweep_duration_ms",
			Help:    "Duration of one retry sweep in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	StuckEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_stuck_events_total",
			Help: "Events recovered by the stuck-processing detector, by outcome (count)",
		},
		[]string{"outcome"},
	)

	EventsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_events_purged_total",
			Help: "Terminal events removed by the retention sweep (count)",
		},
	)

	EventsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_events_expired_total",
			Help: "Events transitioned to EXPIRED (count)",
		},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_dedup_checks_total",
			Help: "Dedup window checks by result (count)",
		},
		[]string{"status"},
	)

	SchemaValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_schema_validations_total",
			Help: "Payload validations by result (count)",
		},
		[]string{"event_type", "status"},
	)

	SchemaResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_schema_resolutions_total",
			Help: "Schema registry resolutions by result (count)",
		},
		[]string{"status"},
	)

	ActiveSchemas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventhub_active_schemas",
			Help: "Number of active, non-deprecated schemas (count)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_broker_retry_attempts_total",
			Help: "Total number of broker redelivery attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_dlq_messages_total",
			Help: "Total number of envelopes sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventhub_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_rate_limit_requests_total",
			Help: "API requests by rate-limit decision (count)",
		},
		[]string{"status"},
	)
)

func RegisterLifecycleMetrics() {
	prometheus.MustRegister(
		EventsIngestedTotal,
		ProcessingAttemptsTotal,
		ProcessingDuration,
		DedupChecksTotal,
		SchemaValidationsTotal,
		SchemaResolutionsTotal,
	)
}

func RegisterSchedulerMetrics() {
	prometheus.MustRegister(
		RetrySweepClaimsTotal,
		RetrySweepDuration,
		StuckEventsTotal,
		EventsPurgedTotal,
		EventsExpiredTotal,
		EventsByStatus,
	)
}

func RegisterRegistryMetrics() {
	prometheus.MustRegister(
		ActiveSchemas,
		RateLimitRequestsTotal,
	)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		RetryAttemptsTotal,
		DLQMessagesTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveProcessingDuration(d time.Duration, status string) {
	ProcessingDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func ObserveRetrySweepDuration(d time.Duration) {
	RetrySweepDuration.Observe(float64(d.Milliseconds()))
}

func SetEventsByStatus(status string, n int64) {
	EventsByStatus.WithLabelValues(status).Set(float64(n))
}
