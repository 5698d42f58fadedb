package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_submissions_total",
			Help: "Total number of events submitted to the engine (count)",
		},
		[]string{"source", "outcome"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dedup_checks_total",
			Help: "Total number of deduplication checks (count)",
		},
		[]string{"status"},
	)

	DedupCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_dedup_check_duration_ms",
			Help:    "Duration of deduplication checks in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DedupCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dedup_cache_hits_total",
			Help: "Local LRU layer hits and misses during dedup checks (count)",
		},
		[]string{"result"},
	)

	DedupStoreSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_dedup_store_size",
			Help: "Approximate number of live fingerprint reservations (count)",
		},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_rate_limit_decisions_total",
			Help: "Total number of rate limit decisions (count)",
		},
		[]string{"scope", "window", "decision"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_queue_depth",
			Help: "Current depth of each logical queue (count)",
		},
		[]string{"queue"},
	)

	QueueItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_queue_items_total",
			Help: "Total number of items entering each logical queue (count)",
		},
		[]string{"queue"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Total number of channel delivery attempts (count)",
		},
		[]string{"channel", "status"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_delivery_duration_ms",
			Help:    "Duration of channel adapter invocations in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"channel"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_retry_attempts_total",
			Help: "Total number of delivery retry attempts scheduled (count)",
		},
		[]string{"event_type"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dead_letters_total",
			Help: "Total number of items moved to the dead-letter queue (count)",
		},
		[]string{"event_type", "reason"},
	)

	RoutingRulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_routing_rules_active",
			Help: "Number of enabled routing override rules (count)",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of HTTP requests checked against the ingress rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ topics (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	RecordsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_records_swept_total",
			Help: "Total number of expired notification records removed by the sweeper (count)",
		},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(DedupChecksTotal)
	prometheus.MustRegister(DedupCheckDuration)
	prometheus.MustRegister(DedupCacheHitsTotal)
	prometheus.MustRegister(DedupStoreSize)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueItemsTotal)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DeadLettersTotal)
	prometheus.MustRegister(RoutingRulesActive)
	prometheus.MustRegister(FallbackUsageTotal)
	prometheus.MustRegister(RecordsSweptTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(DLQMessagesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterHTTPMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveDedupDuration(duration time.Duration, status string) {
	DedupCheckDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveDeliveryDuration(channel string, duration time.Duration) {
	DeliveryDuration.WithLabelValues(channel).Observe(float64(duration.Milliseconds()))
}

func SetDedupStoreSize(size int) {
	DedupStoreSize.Set(float64(size))
}

func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func SetRoutingRulesActive(count int) {
	RoutingRulesActive.Set(float64(count))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}
