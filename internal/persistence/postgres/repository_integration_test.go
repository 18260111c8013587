//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/carbon/internal/domain"
)

func setupRepository(t *testing.T, ctx context.Context) *Repository {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("footprint"),
		postgrescontainer.WithUsername("carbon"),
		postgrescontainer.WithPassword("carbon"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool)
}

func pendingActivity(tenantID, userID string, co2 float64) domain.ActivityAggregate {
	now := time.Now().UTC()
	return domain.ActivityAggregate{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		UserID:      userID,
		Type:        domain.TypeTransport,
		SubCategory: "car",
		OccurredAt:  now,
		Payload:     domain.Payload{Transport: &domain.TransportPayload{DistanceKm: co2 / 0.192, VehicleType: "car", FuelType: "petrol"}},
		Emissions: domain.EmissionResult{
			CO2Kg:       co2,
			TotalCO2eKg: co2,
			Factor:      domain.EmissionFactor{Value: 0.192, Unit: "kg CO2/km", Source: "static", LastUpdated: now},
			Method:      domain.MethodDefault,
		},
		State:     domain.ActivityStatePending,
		Version:   "v1",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepositoryCreateAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	aggregate := pendingActivity(uuid.NewString(), uuid.NewString(), 4.8)
	require.NoError(t, repo.Create(ctx, aggregate, "key-1"))

	stored, err := repo.Get(ctx, aggregate.TenantID, aggregate.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, aggregate.ID, stored.ID)
	require.InDelta(t, 4.8, stored.Emissions.TotalCO2eKg, 1e-9)
	require.Equal(t, "kg CO2/km", stored.Emissions.Factor.Unit)
	require.NotNil(t, stored.Payload.Transport)

	replay, err := repo.FindByIdempotency(ctx, aggregate.TenantID, aggregate.UserID, "key-1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	require.Equal(t, aggregate.ID, replay.ID)

	// Other tenants cannot see the row.
	other, err := repo.Get(ctx, uuid.NewString(), aggregate.ID)
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestApplyContributionUpdatesStatsOnce(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	tenantID, userID := uuid.NewString(), uuid.NewString()
	aggregate := pendingActivity(tenantID, userID, 10)
	require.NoError(t, repo.Create(ctx, aggregate, ""))

	now := time.Now().UTC()
	stats, applied, err := repo.ApplyContribution(ctx, tenantID, userID, aggregate.ID, 10, now)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 1, stats.Streak)
	require.InDelta(t, 10, stats.TotalEmissionsKg, 1e-9)

	// A redelivered event must not double-count.
	_, applied, err = repo.ApplyContribution(ctx, tenantID, userID, aggregate.ID, 10, now)
	require.NoError(t, err)
	require.False(t, applied)

	view, err := repo.GetUserStats(ctx, tenantID, userID)
	require.NoError(t, err)
	require.NotNil(t, view)
	require.InDelta(t, 10, view.Stats.TotalEmissionsKg, 1e-9)
	require.Equal(t, 1, view.Stats.Streak)
	require.NotEmpty(t, view.Achievements)

	// Rollups are both computed over the trailing 365 days, so a single
	// fresh activity shows up in the yearly total and as one twelfth of it
	// in the monthly average.
	require.InDelta(t, 10, view.Stats.YearlyTotalKg, 1e-9)
	require.InDelta(t, 10.0/12, view.Stats.MonthlyAverageKg, 1e-9)

	stored, err := repo.Get(ctx, tenantID, aggregate.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityStateProcessed, stored.State)
}

// Concurrent submissions for the same user must not observe the same
// last_calculation and each extend the streak. The row lock serializes the
// read-modify-write, so the day is counted once no matter how many activities
// land together.
func TestApplyContributionConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	tenantID, userID := uuid.NewString(), uuid.NewString()
	now := time.Now().UTC()
	yesterday := now.Add(-24 * time.Hour)

	// Seed a snapshot from yesterday so every concurrent update sees a
	// one-day gap if the lock were broken.
	seed := pendingActivity(tenantID, userID, 1)
	require.NoError(t, repo.Create(ctx, seed, ""))
	_, applied, err := repo.ApplyContribution(ctx, tenantID, userID, seed.ID, 1, yesterday)
	require.NoError(t, err)
	require.True(t, applied)

	const workers = 8

	activities := make([]domain.ActivityAggregate, workers)
	for i := range activities {
		activities[i] = pendingActivity(tenantID, userID, 2)
		require.NoError(t, repo.Create(ctx, activities[i], ""))
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(agg domain.ActivityAggregate) {
			defer wg.Done()
			_, _, err := repo.ApplyContribution(ctx, tenantID, userID, agg.ID, 2, now)
			errs <- err
		}(activities[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	view, err := repo.GetUserStats(ctx, tenantID, userID)
	require.NoError(t, err)
	require.NotNil(t, view)

	// One day elapsed exactly once: streak goes 1 -> 2, not 1 + workers.
	require.Equal(t, 2, view.Stats.Streak)
	require.InDelta(t, 1+2*workers, view.Stats.TotalEmissionsKg, 1e-9)
}

func TestListByUserPagination(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t, ctx)

	tenantID, userID := uuid.NewString(), uuid.NewString()
	for i := 0; i < 5; i++ {
		agg := pendingActivity(tenantID, userID, float64(i+1))
		agg.OccurredAt = time.Now().UTC().Add(time.Duration(-i) * time.Hour)
		require.NoError(t, repo.Create(ctx, agg, ""))
	}

	page1, cursor, err := repo.ListByUser(ctx, tenantID, userID, nil, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.NotNil(t, cursor)

	page2, _, err := repo.ListByUser(ctx, tenantID, userID, cursor, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
