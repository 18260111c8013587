package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service orchestrates activity workflows.
type Service struct {
	repo ActivityRepository
}

// NewService constructs a Service.
func NewService(repo ActivityRepository) *Service {
	return &Service{repo: repo}
}

// RecordActivityInput captures the payload from the API layer. Any emission
// values a caller may have attached are already stripped by the time the
// input reaches the service; emissions are recomputed here unconditionally.
type RecordActivityInput struct {
	TenantID       string
	UserID         string
	Type           ActivityType
	SubCategory    string
	OccurredAt     time.Time
	Payload        Payload
	IdempotencyKey string
}

// RecordActivity computes emissions server-side and persists the activity with
// idempotent create semantics. The bool result reports an idempotent replay.
func (s *Service) RecordActivity(ctx context.Context, input RecordActivityInput) (*ActivityAggregate, bool, error) {
	if existing, err := s.repo.FindByIdempotency(ctx, input.TenantID, input.UserID, input.IdempotencyKey); err == nil && existing != nil {
		return existing, true, nil
	}

	subCategory := input.SubCategory
	if subCategory == "" {
		subCategory = DefaultSubCategory(input.Type, input.Payload)
	}

	now := time.Now().UTC()
	aggregate := ActivityAggregate{
		ID:          uuid.NewString(),
		TenantID:    input.TenantID,
		UserID:      input.UserID,
		Type:        input.Type,
		SubCategory: subCategory,
		OccurredAt:  input.OccurredAt.UTC(),
		Payload:     input.Payload,
		Emissions:   ComputeEmissions(input.Type, input.Payload),
		State:       ActivityStatePending,
		Version:     "v1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, aggregate, input.IdempotencyKey); err != nil {
		return nil, false, err
	}

	return &aggregate, false, nil
}

// GetActivity fetches by ID.
func (s *Service) GetActivity(ctx context.Context, tenantID, activityID string) (*ActivityAggregate, error) {
	agg, err := s.repo.Get(ctx, tenantID, activityID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, ErrActivityNotFound
	}
	return agg, nil
}

// ListActivitiesByUser fetches activities with cursor pagination.
func (s *Service) ListActivitiesByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]ActivityAggregate, *Cursor, error) {
	return s.repo.ListByUser(ctx, tenantID, userID, cursor, limit)
}

// GetUserStats returns the stats snapshot with rollups and achievements.
func (s *Service) GetUserStats(ctx context.Context, tenantID, userID string) (*UserStatsView, error) {
	view, err := s.repo.GetUserStats(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, ErrUserStatsNotFound
	}
	return view, nil
}
