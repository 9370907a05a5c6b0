package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfit/coachengine/models"
)

var fixedNow = time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)

func newTestAssembler(opts ...Option) *Assembler {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(zerolog.Nop(), opts...)
}

func turnAt(role models.Role, content string, i int) models.ChatTurn {
	return models.ChatTurn{
		ID:        fmt.Sprintf("turn-%d", i),
		Role:      role,
		Content:   content,
		Timestamp: fixedNow.Add(time.Duration(i) * time.Minute),
	}
}

func TestBuildAppendsUserMessage(t *testing.T) {
	a := newTestAssembler()

	bundle := a.Build(models.PersonaProfile{}, models.ContextSnapshot{}, nil, nil, "how did I sleep?")
	require.Len(t, bundle.Messages, 1)
	assert.Equal(t, models.RoleUser, bundle.Messages[0].Role)
	assert.Equal(t, "how did I sleep?", bundle.Messages[0].Content)
}

func TestBuildEmptyUserMessageContinuesFromHistory(t *testing.T) {
	a := newTestAssembler()

	history := []models.ChatTurn{
		turnAt(models.RoleUser, "what's the weather", 0),
		turnAt(models.RoleAssistant, "", 1),
		turnAt(models.RoleToolResult, `{"conditions":"sunny"}`, 2),
	}
	bundle := a.Build(models.PersonaProfile{}, models.ContextSnapshot{}, history, nil, "")
	require.Len(t, bundle.Messages, 3)
	assert.Equal(t, models.RoleToolResult, bundle.Messages[2].Role)
}

func TestBuildTrimsHistoryToMostRecent(t *testing.T) {
	a := newTestAssembler(WithMaxHistoryTurns(5))

	var history []models.ChatTurn
	for i := 0; i < 12; i++ {
		history = append(history, turnAt(models.RoleUser, fmt.Sprintf("message %d", i), i))
	}
	bundle := a.Build(models.PersonaProfile{}, models.ContextSnapshot{}, history, nil, "latest")

	require.Len(t, bundle.Messages, 6) // 5 history turns + current message
	assert.Equal(t, "message 7", bundle.Messages[0].Content)
	assert.Equal(t, "message 11", bundle.Messages[4].Content)
	assert.Equal(t, "latest", bundle.Messages[5].Content)
}

func TestBuildDoesNotMutateHistory(t *testing.T) {
	a := newTestAssembler(WithMaxHistoryTurns(2))

	history := []models.ChatTurn{
		turnAt(models.RoleUser, "one", 0),
		turnAt(models.RoleAssistant, "two", 1),
		turnAt(models.RoleUser, "three", 2),
	}
	a.Build(models.PersonaProfile{}, models.ContextSnapshot{}, history, nil, "four")

	assert.Equal(t, "one", history[0].Content)
	assert.Len(t, history, 3)
}

func TestRenderPersonaDominantDimension(t *testing.T) {
	a := newTestAssembler()

	persona := models.PersonaProfile{
		Goal: "run a sub-4 marathon",
		StyleWeights: map[models.StyleDimension]float64{
			models.StyleAuthoritativeDirect:   0.5,
			models.StyleEncouragingEmpathetic: 0.5,
			models.StyleAnalyticalInsightful:  2.0, // 2.0 >= 1.25 * mean(0.875)
			models.StylePlayfullyProvocative:  0.5,
		},
	}
	bundle := a.Build(persona, models.ContextSnapshot{}, nil, nil, "hi")

	assert.Contains(t, bundle.SystemPrompt, "run a sub-4 marathon")
	assert.Contains(t, bundle.SystemPrompt, "Lead with data")
	assert.NotContains(t, bundle.SystemPrompt, "Lead with warmth")
	assert.Contains(t, bundle.SystemPrompt, "analytical and insightful (2.0)")
}

func TestRenderPersonaBalancedWeightsNoDominance(t *testing.T) {
	a := newTestAssembler()

	persona := models.PersonaProfile{
		Goal: "stay active",
		StyleWeights: map[models.StyleDimension]float64{
			models.StyleAuthoritativeDirect:   1,
			models.StyleEncouragingEmpathetic: 1,
		},
	}
	bundle := a.Build(persona, models.ContextSnapshot{}, nil, nil, "hi")

	assert.NotContains(t, bundle.SystemPrompt, "Lead with")
	assert.Contains(t, bundle.SystemPrompt, "Voice blend")
}

func TestRenderPersonaDefaults(t *testing.T) {
	a := newTestAssembler()

	bundle := a.Build(models.PersonaProfile{}, models.ContextSnapshot{}, nil, nil, "hi")
	assert.Contains(t, bundle.SystemPrompt, "general fitness and wellbeing")
	assert.Contains(t, bundle.SystemPrompt, "Voice blend")
}

func TestRenderPersonaExtras(t *testing.T) {
	a := newTestAssembler()

	persona := models.PersonaProfile{
		Goal:                "build strength",
		QuietHours:          &models.QuietHours{StartHour: 22, EndHour: 7},
		CelebrateMilestones: true,
		AbsenceResponse:     "welcome them back without guilt.",
		Timezone:            "America/Denver",
	}
	bundle := a.Build(persona, models.ContextSnapshot{}, nil, nil, "hi")

	assert.Contains(t, bundle.SystemPrompt, "Quiet hours are 22:00-07:00")
	assert.Contains(t, bundle.SystemPrompt, "Celebrate milestones")
	assert.Contains(t, bundle.SystemPrompt, "welcome them back without guilt.")
	assert.Contains(t, bundle.SystemPrompt, "America/Denver")
}

func TestRenderContextFields(t *testing.T) {
	a := newTestAssembler()

	energy := 7
	recovery := 82
	sleep := 6.5
	loggedAt := fixedNow.Add(-26 * time.Hour)
	snapshot := models.ContextSnapshot{
		EnergyLevel:   &energy,
		RecoveryScore: &recovery,
		SleepHours:    &sleep,
		SleepLoggedAt: &loggedAt,
		Nutrition: &models.NutritionToday{
			Calories: 1450, ProteinG: 92, CarbsG: 130, FatG: 48, Entries: 3,
		},
		Workouts: []models.WorkoutSummary{
			{Title: "Upper body", Date: fixedNow.Add(-3 * 24 * time.Hour), DurationM: 45},
			{Title: "Evening run", InProgress: true},
		},
		WeatherSummary: "Sunny, 72F",
		LocalTime:      fixedNow,
		CreatedAt:      fixedNow,
	}
	bundle := a.Build(models.PersonaProfile{}, snapshot, nil, nil, "hi")

	assert.Contains(t, bundle.SystemPrompt, "Energy level: 7/10")
	assert.Contains(t, bundle.SystemPrompt, "Recovery score: 82/100")
	assert.Contains(t, bundle.SystemPrompt, "Sleep: 6.5 hours (logged yesterday)")
	assert.Contains(t, bundle.SystemPrompt, "1450 cal, 92g protein")
	assert.Contains(t, bundle.SystemPrompt, "Upper body (3 days ago, 45 min)")
	assert.Contains(t, bundle.SystemPrompt, "Evening run (in progress)")
	assert.Contains(t, bundle.SystemPrompt, "Weather: Sunny, 72F")
	assert.Contains(t, bundle.SystemPrompt, "Local time: Tue 09:30")
}

func TestRenderContextEmpty(t *testing.T) {
	a := newTestAssembler()

	bundle := a.Build(models.PersonaProfile{}, models.ContextSnapshot{}, nil, nil, "hi")
	assert.Contains(t, bundle.SystemPrompt, "No live health context is available")
}

func TestBuildListsFunctionSchemas(t *testing.T) {
	a := newTestAssembler()

	schemas := []models.FunctionSchema{
		{Name: "get_weather", Description: "Current weather for a location"},
		{Name: "log_nutrition", Description: "Record a meal"},
	}
	bundle := a.Build(models.PersonaProfile{}, models.ContextSnapshot{}, nil, schemas, "hi")

	assert.Contains(t, bundle.SystemPrompt, "- get_weather: Current weather for a location")
	assert.Contains(t, bundle.SystemPrompt, "- log_nutrition: Record a meal")
	assert.Equal(t, schemas, bundle.Schemas)
}

func TestBuildDeterministic(t *testing.T) {
	a := newTestAssembler()

	persona := models.PersonaProfile{
		Goal: "consistency",
		StyleWeights: map[models.StyleDimension]float64{
			models.StylePlayfullyProvocative:  1.5,
			models.StyleAuthoritativeDirect:   0.5,
			models.StyleEncouragingEmpathetic: 1.0,
		},
	}
	first := a.Build(persona, models.ContextSnapshot{}, nil, nil, "hi")
	for i := 0; i < 10; i++ {
		again := a.Build(persona, models.ContextSnapshot{}, nil, nil, "hi")
		assert.Equal(t, first.SystemPrompt, again.SystemPrompt)
	}
}

func TestFormatAge(t *testing.T) {
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{2 * time.Hour, "today"},
		{30 * time.Hour, "yesterday"},
		{4 * 24 * time.Hour, "4 days ago"},
		{10 * 24 * time.Hour, "1 week ago"},
		{20 * 24 * time.Hour, "2 weeks ago"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatAge(fixedNow.Add(-tc.ago), fixedNow))
	}
	assert.Equal(t, "Apr 01", formatAge(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), fixedNow))
	assert.Equal(t, "", formatAge(time.Time{}, fixedNow))

	// Sanity-check the prompt never renders a zero time.
	assert.False(t, strings.Contains(formatAge(fixedNow, fixedNow), "0001"))
}
