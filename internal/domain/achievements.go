package domain

// Achievement is a gamification badge earned from a stats snapshot.
type Achievement struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type achievementRule struct {
	Achievement
	earned func(UserStats) bool
}

var achievementRules = []achievementRule{
	{Achievement{"first_calculation", "First Footprint"}, func(s UserStats) bool {
		return s.LastCalculation != nil
	}},
	{Achievement{"streak_7", "One Week Streak"}, func(s UserStats) bool {
		return s.Streak >= 7
	}},
	{Achievement{"streak_30", "One Month Streak"}, func(s UserStats) bool {
		return s.Streak >= 30
	}},
	{Achievement{"streak_100", "Centurion"}, func(s UserStats) bool {
		return s.Streak >= 100
	}},
	{Achievement{"tracked_100kg", "100 kg Tracked"}, func(s UserStats) bool {
		return s.TotalEmissionsKg >= 100
	}},
	{Achievement{"tracked_1t", "One Tonne Tracked"}, func(s UserStats) bool {
		return s.TotalEmissionsKg >= 1000
	}},
}

// EarnedAchievements returns every achievement whose condition holds for the
// snapshot. The persistence layer deduplicates against previously stored rows,
// so re-reporting an already earned badge is harmless.
func EarnedAchievements(stats UserStats) []Achievement {
	var earned []Achievement
	for _, rule := range achievementRules {
		if rule.earned(stats) {
			earned = append(earned, rule.Achievement)
		}
	}
	return earned
}
