package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "statsworker",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "statsworker",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "statsworker",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "carbon_service",
		Subsystem: "statsworker",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})

	contributionAppliedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "statsworker",
		Name:      "contributions_applied_total",
		Help:      "Number of emission contributions folded into user stats.",
	}, []string{"topic"})

	contributionSkippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "statsworker",
		Name:      "contributions_skipped_total",
		Help:      "Number of redelivered contributions skipped by the idempotency guard.",
	}, []string{"topic"})

	contributionKgCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "statsworker",
		Name:      "contribution_kg_total",
		Help:      "Total kilograms of CO2e folded into user stats.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(
		processedCounter, handlerErrorCounter, decodeErrorCounter, lastMessageGauge,
		contributionAppliedCounter, contributionSkippedCounter, contributionKgCounter,
	)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordContributionApplied(topic string, kg float64) {
	contributionAppliedCounter.WithLabelValues(topic).Inc()
	contributionKgCounter.WithLabelValues(topic).Add(kg)
}

func recordContributionSkipped(topic string) {
	contributionSkippedCounter.WithLabelValues(topic).Inc()
}

// RecordLag allows external callers (e.g. tests) to set the last timestamp gauge directly.
func RecordLag(topic string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastMessageGauge.WithLabelValues(topic).Set(float64(ts.Unix()))
}
