package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/carbon/internal/domain"
	"example.com/carbon/internal/events"
)

// ContributionApplier is the persistence operation the stats worker drives.
// The implementation must apply each contribution atomically: the streak is
// recomputed from the pre-increment last_calculation under a row lock.
type ContributionApplier interface {
	ApplyContribution(ctx context.Context, tenantID, userID, activityID string, deltaKg float64, now time.Time) (*domain.UserStats, bool, error)
}

// StatsHandler folds activity.recorded events into the owning user's stats.
type StatsHandler struct {
	applier ContributionApplier
	clock   func() time.Time
}

// NewStatsHandler constructs a handler backed by the provided applier.
func NewStatsHandler(applier ContributionApplier) *StatsHandler {
	return &StatsHandler{
		applier: applier,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle applies one decoded event. The streak reacts to the wall-clock
// instant the contribution is applied, not to the event's own timestamp, so a
// replayed backlog cannot fabricate streak days.
func (h *StatsHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "activity.recorded" {
		// Other event types on shared topics are not stats contributions.
		return nil
	}

	var event events.ActivityRecorded
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode activity.recorded: %w", err)
	}
	if event.ActivityID == "" || event.TenantID == "" || event.UserID == "" {
		return fmt.Errorf("activity.recorded missing identity fields (activity_id=%q)", event.ActivityID)
	}

	_, applied, err := h.applier.ApplyContribution(ctx, event.TenantID, event.UserID, event.ActivityID, event.TotalCO2eKg, h.clock())
	if err != nil {
		return fmt.Errorf("apply contribution for activity %s: %w", event.ActivityID, err)
	}
	if !applied {
		recordContributionSkipped(msg.Topic)
		return nil
	}

	recordContributionApplied(msg.Topic, event.TotalCO2eKg)
	return nil
}
