// Package api exposes HTTP handlers for the carbon footprint service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/carbon/internal/auth"
	"example.com/carbon/internal/domain"
	"example.com/carbon/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/users/stats", h.userStats)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.recordActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFootprintWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope footprint:write required")
		return
	}

	var req RecordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activityType := domain.NormalizeActivityType(req.ActivityType)
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	aggregate, replay, err := h.service.RecordActivity(r.Context(), domain.RecordActivityInput{
		TenantID:       claims.TenantID,
		UserID:         req.UserID,
		Type:           activityType,
		SubCategory:    strings.TrimSpace(req.SubCategory),
		OccurredAt:     occurredAt,
		Payload:        req.toPayload(activityType),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := RecordActivityResponse{
		ActivityID: aggregate.ID,
		Status:     string(aggregate.State),
		Replay:     replay,
		Emissions:  toEmissionView(aggregate.Emissions),
	}

	status := http.StatusAccepted
	if replay {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFootprintRead) && !claims.HasScope(auth.ScopeFootprintWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope footprint:read required")
		return
	}

	aggregate, err := h.service.GetActivity(r.Context(), claims.TenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toActivityView(*aggregate))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFootprintRead) && !claims.HasScope(auth.ScopeFootprintWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope footprint:read required")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	aggregates, next, err := h.service.ListActivitiesByUser(r.Context(), claims.TenantID, userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(aggregates))
	for _, agg := range aggregates {
		items = append(items, toActivityView(agg))
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) userStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFootprintRead) && !claims.HasScope(auth.ScopeFootprintWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope footprint:read required")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	view, err := h.service.GetUserStats(r.Context(), claims.TenantID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserStatsNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no stats recorded for user")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toUserStatsView(*view))
}

// RecordActivityRequest is the payload for POST /v1/activities. Measurement
// fields arrive flat; the handler folds them into the typed payload variant
// that matches the declared activity type. Client-supplied emission values are
// not part of this contract and are recomputed server-side regardless.
type RecordActivityRequest struct {
	UserID       string    `json:"user_id"`
	ActivityType string    `json:"activity_type"`
	SubCategory  string    `json:"sub_category,omitempty"`
	OccurredAt   time.Time `json:"occurred_at,omitempty"`

	DistanceKm     float64 `json:"distance_km,omitempty"`
	VehicleType    string  `json:"vehicle_type,omitempty"`
	FuelType       string  `json:"fuel_type,omitempty"`
	UnitsKWh       float64 `json:"units_kwh,omitempty"`
	Cylinders      float64 `json:"cylinders,omitempty"`
	CylinderSizeKg float64 `json:"cylinder_size_kg,omitempty"`
	QuantityKg     float64 `json:"quantity_kg,omitempty"`
	FoodType       string  `json:"food_type,omitempty"`
	Amount         float64 `json:"amount,omitempty"`
	Category       string  `json:"category,omitempty"`
	WeightKg       float64 `json:"weight_kg,omitempty"`
	WasteType      string  `json:"waste_type,omitempty"`
	VolumeLiters   float64 `json:"volume_liters,omitempty"`
}

// Validate ensures request correctness. Only structural fields are enforced;
// a missing measurement yields a zero-emission activity rather than an error.
func (r RecordActivityRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(r.ActivityType) == "" {
		return errors.New("activity_type is required")
	}
	return nil
}

// toPayload builds the tagged-union payload for the declared type. Fields that
// belong to other types are dropped here so a mislabelled submission degrades
// to the zero-emission default instead of borrowing another type's factor.
func (r RecordActivityRequest) toPayload(activityType domain.ActivityType) domain.Payload {
	switch activityType {
	case domain.TypeTransport:
		return domain.Payload{Transport: &domain.TransportPayload{
			DistanceKm:  r.DistanceKm,
			VehicleType: r.VehicleType,
			FuelType:    r.FuelType,
		}}
	case domain.TypeElectricity:
		return domain.Payload{Electricity: &domain.ElectricityPayload{Units: r.UnitsKWh}}
	case domain.TypeLPG:
		return domain.Payload{LPG: &domain.LPGPayload{
			Cylinders:      r.Cylinders,
			CylinderSizeKg: r.CylinderSizeKg,
		}}
	case domain.TypeDiet:
		return domain.Payload{Diet: &domain.DietPayload{
			QuantityKg: r.QuantityKg,
			FoodType:   r.FoodType,
		}}
	case domain.TypePurchases:
		return domain.Payload{Purchase: &domain.PurchasePayload{
			Amount:   r.Amount,
			Category: r.Category,
		}}
	case domain.TypeWaste:
		return domain.Payload{Waste: &domain.WastePayload{
			WeightKg:  r.WeightKg,
			WasteType: r.WasteType,
		}}
	case domain.TypeWater:
		return domain.Payload{Water: &domain.WaterPayload{VolumeLiters: r.VolumeLiters}}
	default:
		return domain.Payload{}
	}
}

// RecordActivityResponse describes the response body for create.
type RecordActivityResponse struct {
	ActivityID string       `json:"activity_id"`
	Status     string       `json:"status"`
	Replay     bool         `json:"idempotent_replay"`
	Emissions  EmissionView `json:"emissions"`
}

// EmissionView exposes a calculation result with its provenance.
type EmissionView struct {
	CO2Kg             float64   `json:"co2_kg"`
	TotalCO2eKg       float64   `json:"total_co2e_kg"`
	FactorValue       float64   `json:"factor_value"`
	FactorUnit        string    `json:"factor_unit"`
	FactorSource      string    `json:"factor_source"`
	FactorLastUpdated time.Time `json:"factor_last_updated"`
	Method            string    `json:"method"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID   string         `json:"activity_id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id"`
	ActivityType string         `json:"activity_type"`
	SubCategory  string         `json:"sub_category"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      domain.Payload `json:"payload"`
	Emissions    EmissionView   `json:"emissions"`
	Status       string         `json:"status"`
	Version      string         `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// UserStatsResponse is the gamified per-user aggregate view.
type UserStatsResponse struct {
	UserID           string               `json:"user_id"`
	TotalEmissionsKg float64              `json:"total_emissions_kg"`
	Streak           int                  `json:"streak"`
	LastCalculation  *time.Time           `json:"last_calculation,omitempty"`
	MonthlyAverageKg float64              `json:"monthly_average_kg"`
	YearlyTotalKg    float64              `json:"yearly_total_kg"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Achievements     []domain.Achievement `json:"achievements"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(agg domain.ActivityAggregate) ActivityView {
	return ActivityView{
		ActivityID:   agg.ID,
		TenantID:     agg.TenantID,
		UserID:       agg.UserID,
		ActivityType: string(agg.Type),
		SubCategory:  agg.SubCategory,
		OccurredAt:   agg.OccurredAt,
		Payload:      agg.Payload,
		Emissions:    toEmissionView(agg.Emissions),
		Status:       string(agg.State),
		Version:      agg.Version,
		CreatedAt:    agg.CreatedAt,
		UpdatedAt:    agg.UpdatedAt,
	}
}

func toEmissionView(result domain.EmissionResult) EmissionView {
	return EmissionView{
		CO2Kg:             result.CO2Kg,
		TotalCO2eKg:       result.TotalCO2eKg,
		FactorValue:       result.Factor.Value,
		FactorUnit:        result.Factor.Unit,
		FactorSource:      result.Factor.Source,
		FactorLastUpdated: result.Factor.LastUpdated,
		Method:            string(result.Method),
	}
}

func toUserStatsView(view domain.UserStatsView) UserStatsResponse {
	achievements := view.Achievements
	if achievements == nil {
		achievements = []domain.Achievement{}
	}
	return UserStatsResponse{
		UserID:           view.Stats.UserID,
		TotalEmissionsKg: view.Stats.TotalEmissionsKg,
		Streak:           view.Stats.Streak,
		LastCalculation:  view.Stats.LastCalculation,
		MonthlyAverageKg: view.Stats.MonthlyAverageKg,
		YearlyTotalKg:    view.Stats.YearlyTotalKg,
		UpdatedAt:        view.Stats.UpdatedAt,
		Achievements:     achievements,
	}
}
