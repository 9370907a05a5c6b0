// Package prompt builds the system prompt and message list for a provider
// call from persona configuration, the live context snapshot, trimmed
// history, and the declared function schemas.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/models"
)

const (
	// DefaultMaxHistoryTurns bounds token usage; the most recent turns win.
	DefaultMaxHistoryTurns = 20
	// DefaultDominanceRatio marks a style dimension as dominant when its
	// weight reaches this multiple of the mean weight.
	DefaultDominanceRatio = 1.25

	defaultGoal = "general fitness and wellbeing"
)

var dimensionDirectives = map[models.StyleDimension]struct {
	label    string
	dominant string
}{
	models.StyleAuthoritativeDirect: {
		label:    "authoritative and direct",
		dominant: "Lead with clear, confident direction; tell them what to do and why.",
	},
	models.StyleEncouragingEmpathetic: {
		label:    "encouraging and empathetic",
		dominant: "Lead with warmth; acknowledge effort and meet them where they are.",
	},
	models.StyleAnalyticalInsightful: {
		label:    "analytical and insightful",
		dominant: "Lead with data; explain the reasoning and surface patterns in their numbers.",
	},
	models.StylePlayfullyProvocative: {
		label:    "playfully provocative",
		dominant: "Lead with energy; tease, challenge, and keep it fun.",
	},
}

// Assembler is deterministic and side-effect-free: the same inputs always
// produce the same bundle, and inputs are never mutated. Missing persona or
// context fields fall back to documented defaults with a warning; a degraded
// prompt beats a blocked request.
type Assembler struct {
	maxHistoryTurns int
	dominanceRatio  float64
	logger          zerolog.Logger
	now             func() time.Time
}

type Option func(*Assembler)

func WithMaxHistoryTurns(n int) Option {
	return func(a *Assembler) { a.maxHistoryTurns = n }
}

func WithDominanceRatio(r float64) Option {
	return func(a *Assembler) { a.dominanceRatio = r }
}

func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

func New(logger zerolog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		maxHistoryTurns: DefaultMaxHistoryTurns,
		dominanceRatio:  DefaultDominanceRatio,
		logger:          logger.With().Str("component", "prompt").Logger(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build assembles the provider-agnostic prompt bundle for one turn.
func (a *Assembler) Build(
	persona models.PersonaProfile,
	snapshot models.ContextSnapshot,
	history []models.ChatTurn,
	schemas []models.FunctionSchema,
	userMessage string,
) models.PromptBundle {
	var sb strings.Builder

	sb.WriteString("You are an AI fitness coach.\n\n")
	sb.WriteString(a.renderPersona(persona))
	sb.WriteString("\n\n")
	sb.WriteString(a.renderContext(snapshot))

	if len(schemas) > 0 {
		sb.WriteString("\n\nYou can call the following functions when the user's request needs real data or a real action. Call a function instead of guessing.\n")
		for _, s := range schemas {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", s.Name, s.Description))
		}
	}

	messages := trimHistory(history, a.maxHistoryTurns)
	// An empty user message means the turn continues from history as-is,
	// e.g. a follow-up call after a tool result.
	if userMessage != "" {
		messages = append(messages, models.ChatTurn{
			Role:      models.RoleUser,
			Content:   userMessage,
			Timestamp: a.now(),
		})
	}

	return models.PromptBundle{
		SystemPrompt: strings.TrimRight(sb.String(), "\n"),
		Messages:     messages,
		Schemas:      schemas,
	}
}

// renderPersona blends the style weights into natural-language directives.
// Dominant dimensions get an explicit call-out; every dimension is still
// summarized, since the system prompt is the sole source of persona truth.
func (a *Assembler) renderPersona(persona models.PersonaProfile) string {
	var parts []string

	goal := persona.Goal
	if goal == "" {
		a.logger.Warn().Msg("persona goal missing, using default")
		goal = defaultGoal
	}
	parts = append(parts, fmt.Sprintf("The user's goal: %s.", goal))

	weights := persona.StyleWeights
	if len(weights) == 0 {
		a.logger.Warn().Msg("persona style weights missing, using a balanced voice")
		weights = map[models.StyleDimension]float64{
			models.StyleAuthoritativeDirect:   1,
			models.StyleEncouragingEmpathetic: 1,
			models.StyleAnalyticalInsightful:  1,
			models.StylePlayfullyProvocative:  1,
		}
	}

	var mean float64
	dims := make([]models.StyleDimension, 0, len(weights))
	for dim, w := range weights {
		mean += w
		dims = append(dims, dim)
	}
	mean /= float64(len(weights))
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })

	var summary []string
	for _, dim := range dims {
		directive, known := dimensionDirectives[dim]
		label := directive.label
		if !known {
			label = strings.ReplaceAll(string(dim), "_", " ")
		}
		w := weights[dim]
		summary = append(summary, fmt.Sprintf("%s (%.1f)", label, w))
		if known && mean > 0 && w >= a.dominanceRatio*mean {
			parts = append(parts, directive.dominant)
		}
	}
	parts = append(parts, "Voice blend, by relative weight: "+strings.Join(summary, ", ")+".")

	if persona.QuietHours != nil {
		parts = append(parts, fmt.Sprintf(
			"Quiet hours are %02d:00-%02d:00 local time; keep responses brief and low-key then.",
			persona.QuietHours.StartHour, persona.QuietHours.EndHour))
	}
	if persona.CelebrateMilestones {
		parts = append(parts, "Celebrate milestones when the data shows one.")
	}
	if persona.AbsenceResponse != "" {
		parts = append(parts, "If the user has been away: "+persona.AbsenceResponse)
	}
	if persona.Timezone != "" {
		parts = append(parts, "The user's timezone is "+persona.Timezone+".")
	}

	return strings.Join(parts, "\n")
}

// renderContext serializes the snapshot into a compact structured block with
// staleness annotations so the model knows data freshness.
func (a *Assembler) renderContext(snapshot models.ContextSnapshot) string {
	now := a.now()
	parts := []string{"Current state of the user:"}
	empty := true

	if snapshot.EnergyLevel != nil {
		parts = append(parts, fmt.Sprintf("- Energy level: %d/10", *snapshot.EnergyLevel))
		empty = false
	}
	if snapshot.RecoveryScore != nil {
		parts = append(parts, fmt.Sprintf("- Recovery score: %d/100", *snapshot.RecoveryScore))
		empty = false
	}
	if snapshot.SleepHours != nil {
		line := fmt.Sprintf("- Sleep: %.1f hours", *snapshot.SleepHours)
		if snapshot.SleepLoggedAt != nil {
			if age := formatAge(*snapshot.SleepLoggedAt, now); age != "" && age != "today" {
				line += fmt.Sprintf(" (logged %s)", age)
			}
		}
		parts = append(parts, line)
		empty = false
	}
	if n := snapshot.Nutrition; n != nil {
		parts = append(parts, fmt.Sprintf(
			"- Nutrition today: %d cal, %.0fg protein, %.0fg carbs, %.0fg fat across %d entries",
			n.Calories, n.ProteinG, n.CarbsG, n.FatG, n.Entries))
		empty = false
	}
	for _, w := range snapshot.Workouts {
		line := fmt.Sprintf("- Workout: %s", w.Title)
		if w.InProgress {
			line += " (in progress)"
		} else if age := formatAge(w.Date, now); age != "" {
			line += fmt.Sprintf(" (%s", age)
			if w.DurationM > 0 {
				line += fmt.Sprintf(", %d min", w.DurationM)
			}
			line += ")"
		}
		parts = append(parts, line)
		empty = false
	}
	if snapshot.WeatherSummary != "" {
		parts = append(parts, "- Weather: "+snapshot.WeatherSummary)
		empty = false
	}
	if !snapshot.LocalTime.IsZero() {
		parts = append(parts, "- Local time: "+snapshot.LocalTime.Format("Mon 15:04"))
		empty = false
	}

	if empty {
		a.logger.Warn().Msg("context snapshot empty, proceeding without live context")
		return "No live health context is available right now. Coach from the conversation alone and say so if asked about current data."
	}

	if age := snapshot.Age(now); age > 15*time.Minute {
		a.logger.Warn().Dur("age", age).Msg("context snapshot is stale")
	}

	return strings.Join(parts, "\n")
}

// trimHistory keeps the most recent max turns in chronological order without
// mutating the input slice.
func trimHistory(history []models.ChatTurn, max int) []models.ChatTurn {
	if max <= 0 || len(history) <= max {
		return append([]models.ChatTurn(nil), history...)
	}
	return append([]models.ChatTurn(nil), history[len(history)-max:]...)
}

// formatAge renders a human-readable age like "today", "yesterday",
// "3 days ago", or the date for anything older than a month.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case days < 30:
		weeks := days / 7
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	default:
		return t.Format("Jan 02")
	}
}
