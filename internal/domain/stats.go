package domain

import "time"

// UserStats is the cumulative per-user aggregate state. TotalEmissionsKg only
// grows through ApplyContribution; MonthlyAverageKg and YearlyTotalKg are
// rollups derived by the persistence layer on read.
type UserStats struct {
	UserID           string
	TotalEmissionsKg float64
	Streak           int
	LastCalculation  *time.Time
	MonthlyAverageKg float64
	YearlyTotalKg    float64
	UpdatedAt        time.Time
}

// ApplyContribution folds one emission delta into a stats snapshot. The streak
// depends only on the UTC calendar-day distance between the previous
// LastCalculation and the instant the update is applied, never on the
// activity's own timestamp, so backfilled activities cannot inflate the
// streak. Repeats on the same calendar day leave the streak untouched.
//
// Non-positive deltas are applied exactly like positive ones: they still
// advance LastCalculation and count toward the streak.
func ApplyContribution(prev UserStats, deltaKg float64, now time.Time) UserStats {
	next := prev
	next.TotalEmissionsKg = prev.TotalEmissionsKg + deltaKg

	if prev.LastCalculation == nil {
		next.Streak = 1
	} else {
		switch days := calendarDaysBetween(*prev.LastCalculation, now); {
		case days == 1:
			next.Streak = prev.Streak + 1
		case days > 1:
			next.Streak = 1
		}
		// days <= 0: same calendar day (or clock skew), streak unchanged.
	}

	applied := now
	next.LastCalculation = &applied
	next.UpdatedAt = now
	return next
}

// calendarDaysBetween returns the number of UTC calendar-day boundaries
// crossed between two instants. Two timestamps on the same date yield 0 no
// matter how many hours apart they are; 23:59 to 00:01 yields 1.
func calendarDaysBetween(from, to time.Time) int {
	fromDay := truncateToDay(from.UTC())
	toDay := truncateToDay(to.UTC())
	return int(toDay.Sub(fromDay) / (24 * time.Hour))
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
