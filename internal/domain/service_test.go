package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	existing *ActivityAggregate
	created  *ActivityAggregate
	createdK string
}

func (f *fakeRepo) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*ActivityAggregate, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	return f.existing, nil
}

func (f *fakeRepo) Create(ctx context.Context, aggregate ActivityAggregate, idempotencyKey string) error {
	f.created = &aggregate
	f.createdK = idempotencyKey
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, tenantID, activityID string) (*ActivityAggregate, error) {
	return f.existing, nil
}

func (f *fakeRepo) ListByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]ActivityAggregate, *Cursor, error) {
	return nil, nil, nil
}

func (f *fakeRepo) GetUserStats(ctx context.Context, tenantID, userID string) (*UserStatsView, error) {
	return nil, nil
}

func TestRecordActivityComputesEmissions(t *testing.T) {
	repo := &fakeRepo{}
	service := NewService(repo)

	agg, replay, err := service.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:   "tenant-1",
		UserID:     "user-1",
		Type:       TypeTransport,
		OccurredAt: time.Date(2025, time.November, 1, 8, 0, 0, 0, time.UTC),
		Payload:    Payload{Transport: &TransportPayload{DistanceKm: 25, VehicleType: "car", FuelType: "petrol"}},
	})
	require.NoError(t, err)
	require.False(t, replay)
	require.NotNil(t, repo.created)

	require.InDelta(t, 4.8, agg.Emissions.TotalCO2eKg, 1e-9)
	require.Equal(t, agg.Emissions.CO2Kg, agg.Emissions.TotalCO2eKg)
	require.Equal(t, ActivityStatePending, agg.State)
	require.Equal(t, "v1", agg.Version)
	require.NotEmpty(t, agg.ID)
	require.Equal(t, "car", agg.SubCategory)
}

func TestRecordActivityIdempotentReplay(t *testing.T) {
	existing := &ActivityAggregate{ID: "act-1", State: ActivityStateProcessed}
	repo := &fakeRepo{existing: existing}
	service := NewService(repo)

	agg, replay, err := service.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:       "tenant-1",
		UserID:         "user-1",
		Type:           TypeWater,
		OccurredAt:     time.Now(),
		Payload:        Payload{Water: &WaterPayload{VolumeLiters: 100}},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, existing, agg)
	require.Nil(t, repo.created)
}

func TestRecordActivityKeepsCallerSubCategory(t *testing.T) {
	repo := &fakeRepo{}
	service := NewService(repo)

	agg, _, err := service.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:    "tenant-1",
		UserID:      "user-1",
		Type:        TypeDiet,
		SubCategory: "meal_tracking",
		OccurredAt:  time.Now(),
		Payload:     Payload{Diet: &DietPayload{QuantityKg: 1, FoodType: "rice"}},
	})
	require.NoError(t, err)
	require.Equal(t, "meal_tracking", agg.SubCategory)
}

func TestRecordActivityUnknownTypeStillSucceeds(t *testing.T) {
	repo := &fakeRepo{}
	service := NewService(repo)

	agg, _, err := service.RecordActivity(context.Background(), RecordActivityInput{
		TenantID:   "tenant-1",
		UserID:     "user-1",
		Type:       TypeOther,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	require.Zero(t, agg.Emissions.TotalCO2eKg)
	require.Equal(t, "unknown", agg.Emissions.Factor.Unit)
}

func TestGetActivityNotFound(t *testing.T) {
	service := NewService(&fakeRepo{})

	_, err := service.GetActivity(context.Background(), "tenant-1", "missing")
	require.ErrorIs(t, err, ErrActivityNotFound)
}

func TestGetUserStatsNotFound(t *testing.T) {
	service := NewService(&fakeRepo{})

	_, err := service.GetUserStats(context.Background(), "tenant-1", "user-1")
	require.ErrorIs(t, err, ErrUserStatsNotFound)
}
