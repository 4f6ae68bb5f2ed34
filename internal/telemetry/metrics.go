package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesConsumed counts bus messages fetched, per topic.
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_bus_messages_consumed_total",
		Help: "Number of messages fetched from the command bus",
	}, []string{"topic"})

	// MessagesDeadLettered counts messages routed to the DLQ after
	// exhausting handler retries.
	MessagesDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_bus_messages_dead_lettered_total",
		Help: "Number of messages sent to the dead letter queue",
	}, []string{"topic"})

	// TransactionsProcessed counts pipeline results by command type and outcome.
	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_transactions_processed_total",
		Help: "Number of transactions processed by the pipeline",
	}, []string{"type", "outcome"})

	// PipelineDuration observes end-to-end pipeline execution time.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payments_pipeline_duration_seconds",
		Help:    "Transaction pipeline execution duration",
		Buckets: prometheus.DefBuckets,
	})

	// IdempotencyHits counts requests short-circuited by the idempotency guard.
	IdempotencyHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_idempotency_hits_total",
		Help: "Number of requests answered from the idempotency cache",
	}, []string{"result"})

	// SagaTransitions counts transfer saga transitions by target state.
	SagaTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_saga_transitions_total",
		Help: "Number of transfer saga state transitions",
	}, []string{"to_state"})

	// SagaEventsDropped counts stale or unmatched saga events.
	SagaEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_saga_events_dropped_total",
		Help: "Number of saga events dropped as stale or unmatched",
	})

	// WebhookDeliveries counts webhook delivery attempts by final status.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhook_deliveries_total",
		Help: "Number of webhook deliveries",
	}, []string{"status"})

	// WebhookDuration observes outbound webhook latency.
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payments_webhook_duration_seconds",
		Help:    "Webhook delivery duration",
		Buckets: prometheus.DefBuckets,
	})
)
