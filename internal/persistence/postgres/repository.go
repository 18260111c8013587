package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/carbon/internal/domain"
	"example.com/carbon/internal/events"
	"example.com/carbon/internal/observability"
)

// Repository provides Postgres-backed persistence for activities, user stats,
// achievements, and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activityColumns = `activity_id, tenant_id, user_id, activity_type, sub_category, occurred_at, payload,
        co2_kg, total_co2e_kg, factor_value, factor_unit, factor_source, factor_updated_at, calc_method,
        version, processing_state, created_at, updated_at`

// FindByIdempotency checks if an activity already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.ActivityAggregate, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND user_id=$2 AND idempotency_key=$3`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return nil, err
	}

	agg, err := scanActivity(tx.QueryRow(ctx, query, tenantID, userID, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return agg, nil
}

// Create persists the aggregate and records outbox events inside a single transaction.
func (r *Repository) Create(ctx context.Context, aggregate domain.ActivityAggregate, idempotencyKey string) error {
	payloadJSON, err := json.Marshal(aggregate.Payload)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", aggregate.TenantID); err != nil {
		return err
	}

	const insertActivity = `INSERT INTO activities (activity_id, tenant_id, user_id, activity_type, sub_category, occurred_at, payload,
            co2_kg, total_co2e_kg, factor_value, factor_unit, factor_source, factor_updated_at, calc_method,
            idempotency_key, version, processing_state, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	_, err = tx.Exec(ctx, insertActivity,
		aggregate.ID,
		aggregate.TenantID,
		aggregate.UserID,
		string(aggregate.Type),
		aggregate.SubCategory,
		aggregate.OccurredAt,
		payloadJSON,
		aggregate.Emissions.CO2Kg,
		aggregate.Emissions.TotalCO2eKg,
		aggregate.Emissions.Factor.Value,
		aggregate.Emissions.Factor.Unit,
		aggregate.Emissions.Factor.Source,
		aggregate.Emissions.Factor.LastUpdated,
		string(aggregate.Emissions.Method),
		nullIfEmpty(idempotencyKey),
		aggregate.Version,
		aggregate.State,
		aggregate.CreatedAt,
		aggregate.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, aggregate, "activity.recorded", events.ActivityRecorded{
		ActivityID:   aggregate.ID,
		TenantID:     aggregate.TenantID,
		UserID:       aggregate.UserID,
		ActivityType: string(aggregate.Type),
		SubCategory:  aggregate.SubCategory,
		OccurredAt:   aggregate.OccurredAt,
		TotalCO2eKg:  aggregate.Emissions.TotalCO2eKg,
		FactorSource: aggregate.Emissions.Factor.Source,
		Version:      aggregate.Version,
	}); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, aggregate, "activity.state_changed", events.ActivityStateChanged{
		ActivityID: aggregate.ID,
		TenantID:   aggregate.TenantID,
		UserID:     aggregate.UserID,
		State:      string(aggregate.State),
		OccurredAt: aggregate.UpdatedAt,
	}); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}
	observability.RecordActivityPersisted(aggregate.UpdatedAt)
	observability.RecordEmissionsComputed(string(aggregate.Type), aggregate.Emissions.TotalCO2eKg)
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregate domain.ActivityAggregate, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := meta.PartitionKeyFn(aggregate)
	dedupeKey := fmt.Sprintf("%s:%s", aggregate.ID, eventType)

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		aggregate.TenantID,
		"activity",
		aggregate.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

// Get retrieves an activity by ID.
func (r *Repository) Get(ctx context.Context, tenantID, activityID string) (*domain.ActivityAggregate, error) {
	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND activity_id=$2`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return nil, err
	}

	agg, err := scanActivity(tx.QueryRow(ctx, query, tenantID, activityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return agg, nil
}

// ListByUser returns activities for a user ordered by occurrence time.
func (r *Repository) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityAggregate, *domain.Cursor, error) {
	args := []interface{}{tenantID, userID, limit}
	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND user_id=$2`

	if cursor != nil {
		query += ` AND (occurred_at, activity_id) < ($4, $5)`
		args = append(args, cursor.OccurredAt, cursor.ID)
	}

	query += ` ORDER BY occurred_at DESC, activity_id DESC LIMIT $3`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityAggregate, 0, limit)
	for rows.Next() {
		agg, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *agg)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}

	return results, nextCursor, nil
}

// GetUserStats returns the stats snapshot plus rollups and earned achievements.
// Rollups are derived by aggregation at read time, so they lag the snapshot by
// at most the stats worker's processing delay.
func (r *Repository) GetUserStats(ctx context.Context, tenantID, userID string) (*domain.UserStatsView, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return nil, err
	}

	var view domain.UserStatsView
	view.Stats.UserID = userID

	const statsQuery = `SELECT total_emissions_kg, streak, last_calculation, updated_at
        FROM user_stats WHERE tenant_id=$1 AND user_id=$2`
	if err := tx.QueryRow(ctx, statsQuery, tenantID, userID).Scan(
		&view.Stats.TotalEmissionsKg, &view.Stats.Streak, &view.Stats.LastCalculation, &view.Stats.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, err
	}

	// Both rollups share the same basis, a rolling 365-day window:
	// YearlyTotalKg is the sum over that window and MonthlyAverageKg spreads
	// it across twelve months.
	const rollupQuery = `SELECT COALESCE(SUM(total_co2e_kg) FILTER (WHERE occurred_at >= NOW() - interval '365 days'), 0)
        FROM activities WHERE tenant_id=$1 AND user_id=$2`
	if err := tx.QueryRow(ctx, rollupQuery, tenantID, userID).Scan(&view.Stats.YearlyTotalKg); err != nil {
		return nil, err
	}
	view.Stats.MonthlyAverageKg = view.Stats.YearlyTotalKg / 12

	const achievementsQuery = `SELECT code, name FROM user_achievements
        WHERE tenant_id=$1 AND user_id=$2 ORDER BY earned_at, code`
	rows, err := tx.Query(ctx, achievementsQuery, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Achievement
		if err := rows.Scan(&a.Code, &a.Name); err != nil {
			return nil, err
		}
		view.Achievements = append(view.Achievements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &view, nil
}

// ApplyContribution folds one activity's emissions into the owning user's
// stats in a single transaction. The activity's pending state acts as the
// idempotency guard, and the user_stats row is locked so that concurrent
// submissions cannot both read the same last_calculation and double-count a
// streak day. Returns the new snapshot and whether the contribution was
// applied (false means another worker already processed this activity).
func (r *Repository) ApplyContribution(ctx context.Context, tenantID, userID, activityID string, deltaKg float64, now time.Time) (*domain.UserStats, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return nil, false, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE activities SET processing_state=$1, updated_at=$2
         WHERE tenant_id=$3 AND activity_id=$4 AND processing_state=$5`,
		domain.ActivityStateProcessed, now, tenantID, activityID, domain.ActivityStatePending,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		// Already applied by a previous delivery of the same event.
		return nil, false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_stats (tenant_id, user_id, total_emissions_kg, streak, updated_at)
         VALUES ($1,$2,0,0,$3) ON CONFLICT (tenant_id, user_id) DO NOTHING`,
		tenantID, userID, now,
	); err != nil {
		return nil, false, err
	}

	prev := domain.UserStats{UserID: userID}
	if err := tx.QueryRow(ctx,
		`SELECT total_emissions_kg, streak, last_calculation FROM user_stats
         WHERE tenant_id=$1 AND user_id=$2 FOR UPDATE`,
		tenantID, userID,
	).Scan(&prev.TotalEmissionsKg, &prev.Streak, &prev.LastCalculation); err != nil {
		return nil, false, err
	}

	next := domain.ApplyContribution(prev, deltaKg, now)

	if _, err := tx.Exec(ctx,
		`UPDATE user_stats SET total_emissions_kg=$1, streak=$2, last_calculation=$3, updated_at=$4
         WHERE tenant_id=$5 AND user_id=$6`,
		next.TotalEmissionsKg, next.Streak, next.LastCalculation, next.UpdatedAt, tenantID, userID,
	); err != nil {
		return nil, false, err
	}

	for _, achievement := range domain.EarnedAchievements(next) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_achievements (tenant_id, user_id, code, name, earned_at)
             VALUES ($1,$2,$3,$4,$5) ON CONFLICT (tenant_id, user_id, code) DO NOTHING`,
			tenantID, userID, achievement.Code, achievement.Name, now,
		); err != nil {
			return nil, false, err
		}
	}

	if err := insertOutbox(ctx, tx, domain.ActivityAggregate{
		ID:       activityID,
		TenantID: tenantID,
		UserID:   userID,
	}, "activity.state_changed", events.ActivityStateChanged{
		ActivityID: activityID,
		TenantID:   tenantID,
		UserID:     userID,
		State:      string(domain.ActivityStateProcessed),
		OccurredAt: now,
	}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	observability.RecordStatsApplied(now)
	return &next, true, nil
}

func scanActivity(row pgx.Row) (*domain.ActivityAggregate, error) {
	var (
		agg         domain.ActivityAggregate
		payloadJSON []byte
	)
	if err := row.Scan(
		&agg.ID, &agg.TenantID, &agg.UserID, &agg.Type, &agg.SubCategory, &agg.OccurredAt, &payloadJSON,
		&agg.Emissions.CO2Kg, &agg.Emissions.TotalCO2eKg, &agg.Emissions.Factor.Value, &agg.Emissions.Factor.Unit,
		&agg.Emissions.Factor.Source, &agg.Emissions.Factor.LastUpdated, &agg.Emissions.Method,
		&agg.Version, &agg.State, &agg.CreatedAt, &agg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &agg.Payload); err != nil {
			return nil, err
		}
	}
	return &agg, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.ActivityAggregate) string
}

var eventCatalog = map[string]EventMetadata{
	"activity.recorded": {
		Topic:         "emission_events",
		SchemaSubject: "emission_events-value",
		PartitionKeyFn: func(a domain.ActivityAggregate) string {
			return fmt.Sprintf("%s:%s", a.TenantID, a.UserID)
		},
	},
	"activity.state_changed": {
		Topic:         "activity_state_changed",
		SchemaSubject: "activity_state_changed-value",
		PartitionKeyFn: func(a domain.ActivityAggregate) string {
			return a.ID
		},
	},
}
