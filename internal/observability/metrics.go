// Package observability holds service-level metrics that cut across packages.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carbon_service",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity persisted to Postgres.",
	})
	statsAppliedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carbon_service",
		Subsystem: "persistence",
		Name:      "last_stats_applied_timestamp_seconds",
		Help:      "Unix timestamp of the most recent stats contribution applied.",
	})
	emissionsComputedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "emissions",
		Name:      "computed_total",
		Help:      "Number of emission calculations persisted, by activity type.",
	}, []string{"activity_type"})
	emissionsKgCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon_service",
		Subsystem: "emissions",
		Name:      "computed_kg_total",
		Help:      "Total CO2e kilograms persisted, by activity type.",
	}, []string{"activity_type"})
)

func init() {
	prometheus.MustRegister(
		activityPersistGauge,
		statsAppliedGauge,
		emissionsComputedCounter,
		emissionsKgCounter,
	)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordStatsApplied updates the stats watermark gauge.
func RecordStatsApplied(ts time.Time) {
	if ts.IsZero() {
		return
	}
	statsAppliedGauge.Set(float64(ts.Unix()))
}

// RecordEmissionsComputed counts a persisted calculation and its CO2e mass.
func RecordEmissionsComputed(activityType string, kg float64) {
	emissionsComputedCounter.WithLabelValues(activityType).Inc()
	if kg > 0 {
		emissionsKgCounter.WithLabelValues(activityType).Add(kg)
	}
}
