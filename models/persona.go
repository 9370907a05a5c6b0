package models

// StyleDimension names one axis of the coaching voice. Weights are relative
// magnitudes, not probabilities; they need not sum to 1.
type StyleDimension string

const (
	StyleAuthoritativeDirect   StyleDimension = "authoritative_direct"
	StyleEncouragingEmpathetic StyleDimension = "encouraging_empathetic"
	StyleAnalyticalInsightful  StyleDimension = "analytical_insightful"
	StylePlayfullyProvocative  StyleDimension = "playfully_provocative"
)

// QuietHours is a daily window during which the coach keeps proactive output
// low-key. Hours are local to Timezone on the profile.
type QuietHours struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// PersonaProfile is the user's coaching-style configuration. Read-only input
// to the prompt assembler; owned by the profile collaborator.
type PersonaProfile struct {
	Goal                string                     `json:"goal"`
	StyleWeights        map[StyleDimension]float64 `json:"style_weights"`
	QuietHours          *QuietHours                `json:"quiet_hours,omitempty"`
	CelebrateMilestones bool                       `json:"celebrate_milestones"`
	AbsenceResponse     string                     `json:"absence_response,omitempty"`
	Timezone            string                     `json:"timezone"`
}
