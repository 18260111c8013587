// Package events defines the payloads exchanged between the API process and
// the stats worker.
package events

import "time"

// ActivityRecorded is emitted when a new activity is accepted and its
// emissions have been computed. TotalCO2eKg is the authoritative value the
// stats worker folds into the owning user's aggregates.
type ActivityRecorded struct {
	ActivityID   string    `json:"activity_id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	ActivityType string    `json:"activity_type"`
	SubCategory  string    `json:"sub_category"`
	OccurredAt   time.Time `json:"occurred_at"`
	TotalCO2eKg  float64   `json:"total_co2e_kg"`
	FactorSource string    `json:"factor_source"`
	Version      string    `json:"version"`
}

// ActivityStateChanged tracks state transitions (pending, processed, failed)
// for optimistic UI flows.
type ActivityStateChanged struct {
	ActivityID string    `json:"activity_id"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
}
