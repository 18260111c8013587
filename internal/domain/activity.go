// Package domain defines the business logic for the carbon footprint service.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrUserStatsNotFound is returned when a user has no stats snapshot yet.
	ErrUserStatsNotFound = errors.New("user stats not found")
)

// ActivityType enumerates the reportable activity categories.
type ActivityType string

const (
	TypeTransport   ActivityType = "transport"
	TypeElectricity ActivityType = "electricity"
	TypeLPG         ActivityType = "lpg"
	TypeDiet        ActivityType = "diet"
	TypePurchases   ActivityType = "purchases"
	TypeWaste       ActivityType = "waste"
	TypeWater       ActivityType = "water"
	TypeHeating     ActivityType = "heating"
	TypeCooling     ActivityType = "cooling"
	TypeOther       ActivityType = "other"
)

// NormalizeActivityType lowercases and trims a raw type string. Unrecognized
// values are passed through as-is; the calculator resolves them to the
// zero-emission default rather than rejecting the submission.
func NormalizeActivityType(raw string) ActivityType {
	return ActivityType(strings.ToLower(strings.TrimSpace(raw)))
}

// Known reports whether the type is part of the closed category set.
func (t ActivityType) Known() bool {
	switch t {
	case TypeTransport, TypeElectricity, TypeLPG, TypeDiet, TypePurchases,
		TypeWaste, TypeWater, TypeHeating, TypeCooling, TypeOther:
		return true
	}
	return false
}

// ActivityState represents the processing status of an activity.
type ActivityState string

const (
	ActivityStatePending   ActivityState = "pending"
	ActivityStateProcessed ActivityState = "processed"
	ActivityStateFailed    ActivityState = "failed"
)

// TransportPayload carries a distance-based travel measurement.
type TransportPayload struct {
	DistanceKm  float64 `json:"distance_km"`
	VehicleType string  `json:"vehicle_type,omitempty"`
	FuelType    string  `json:"fuel_type,omitempty"`
}

// ElectricityPayload carries grid consumption in kWh.
type ElectricityPayload struct {
	Units float64 `json:"units_kwh"`
}

// LPGPayload carries cylinder usage. CylinderSizeKg defaults to the standard
// 14.2 kg domestic cylinder when the caller omits it.
type LPGPayload struct {
	Cylinders      float64 `json:"cylinders"`
	CylinderSizeKg float64 `json:"cylinder_size_kg,omitempty"`
}

// DietPayload carries food consumption by weight.
type DietPayload struct {
	QuantityKg float64 `json:"quantity_kg"`
	FoodType   string  `json:"food_type,omitempty"`
}

// PurchasePayload carries a monetary spend amount.
type PurchasePayload struct {
	Amount   float64 `json:"amount"`
	Category string  `json:"category,omitempty"`
}

// WastePayload carries disposed waste by weight.
type WastePayload struct {
	WeightKg  float64 `json:"weight_kg"`
	WasteType string  `json:"waste_type,omitempty"`
}

// WaterPayload carries water usage in liters.
type WaterPayload struct {
	VolumeLiters float64 `json:"volume_liters"`
}

// Payload is a tagged union of the per-type measurement variants. Exactly one
// variant is set for a well-formed activity; a variant that does not match the
// activity type is ignored and the calculation falls back to the zero-emission
// default.
type Payload struct {
	Transport   *TransportPayload   `json:"transport,omitempty"`
	Electricity *ElectricityPayload `json:"electricity,omitempty"`
	LPG         *LPGPayload         `json:"lpg,omitempty"`
	Diet        *DietPayload        `json:"diet,omitempty"`
	Purchase    *PurchasePayload    `json:"purchase,omitempty"`
	Waste       *WastePayload       `json:"waste,omitempty"`
	Water       *WaterPayload       `json:"water,omitempty"`
}

// DefaultSubCategory derives the sub-category label when the caller omits one.
func DefaultSubCategory(activityType ActivityType, payload Payload) string {
	switch activityType {
	case TypeTransport:
		if payload.Transport != nil && payload.Transport.VehicleType != "" {
			return strings.ToLower(payload.Transport.VehicleType)
		}
		return "car"
	case TypeElectricity:
		return "electricity_consumption"
	case TypeLPG:
		return "lpg_usage"
	case TypeDiet:
		return "food_consumption"
	case TypePurchases:
		return "shopping"
	case TypeWaste:
		return "waste_disposal"
	case TypeWater:
		return "water_usage"
	default:
		return string(activityType)
	}
}

// ActivityAggregate is the domain object stored in Postgres and replayed to
// the stats worker. Emissions are always recomputed server-side; values
// supplied by callers are never trusted.
type ActivityAggregate struct {
	ID          string
	TenantID    string
	UserID      string
	Type        ActivityType
	SubCategory string
	OccurredAt  time.Time
	Payload     Payload
	Emissions   EmissionResult
	State       ActivityState
	Version     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	OccurredAt time.Time
	ID         string
}

// UserStatsView bundles the stats snapshot with derived rollups and earned
// achievements for read paths.
type UserStatsView struct {
	Stats        UserStats
	Achievements []Achievement
}

// ActivityRepository captures persistence operations.
type ActivityRepository interface {
	FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*ActivityAggregate, error)
	Create(ctx context.Context, aggregate ActivityAggregate, idempotencyKey string) error
	Get(ctx context.Context, tenantID, activityID string) (*ActivityAggregate, error)
	ListByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]ActivityAggregate, *Cursor, error)
	GetUserStats(ctx context.Context, tenantID, userID string) (*UserStatsView, error)
}
