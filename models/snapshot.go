package models

import "time"

// WorkoutSummary is one active or recent workout in a context snapshot.
type WorkoutSummary struct {
	Title      string    `json:"title"`
	Date       time.Time `json:"date"`
	DurationM  int       `json:"duration_minutes,omitempty"`
	InProgress bool      `json:"in_progress,omitempty"`
}

// NutritionToday is the running nutrition total for the current day.
type NutritionToday struct {
	Calories int     `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
	Entries  int     `json:"entries"`
}

// ContextSnapshot is a point-in-time bundle of external signals, supplied
// fresh per orchestration call. Never mutated by the engine; CreatedAt is
// used only for staleness logging.
type ContextSnapshot struct {
	EnergyLevel    *int             `json:"energy_level,omitempty"`    // 1-10
	RecoveryScore  *int             `json:"recovery_score,omitempty"`  // 0-100
	SleepHours     *float64         `json:"sleep_hours,omitempty"`
	SleepLoggedAt  *time.Time       `json:"sleep_logged_at,omitempty"`
	Nutrition      *NutritionToday  `json:"nutrition,omitempty"`
	Workouts       []WorkoutSummary `json:"workouts,omitempty"`
	WeatherSummary string           `json:"weather_summary,omitempty"`
	LocalTime      time.Time        `json:"local_time"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Age reports how stale the snapshot is relative to now.
func (s ContextSnapshot) Age(now time.Time) time.Duration {
	if s.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CreatedAt)
}
