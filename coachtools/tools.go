// Package coachtools provides the built-in coaching functions exposed to the
// model. Real deployments register their own handlers against the same
// schemas; these implementations return canned data so the engine works end
// to end out of the box.
package coachtools

import (
	"context"
	"encoding/json"
	"fmt"

	coachengine "github.com/airfit/coachengine"
	"github.com/airfit/coachengine/models"
)

// RegisterAll adds every built-in function to the registry.
func RegisterAll(registry *coachengine.Registry) error {
	tools := []struct {
		schema  models.FunctionSchema
		handler coachengine.HandlerFunc
	}{
		{GenerateWorkoutPlanSchema(), GenerateWorkoutPlan},
		{LogNutritionSchema(), LogNutrition},
		{GetSleepDataSchema(), GetSleepData},
		{GetWeatherSchema(), GetWeather},
	}
	for _, t := range tools {
		if err := registry.Register(t.schema, t.handler); err != nil {
			return err
		}
	}
	return nil
}

// GenerateWorkoutPlanSchema declares the workout plan generator.
func GenerateWorkoutPlanSchema() models.FunctionSchema {
	return models.FunctionSchema{
		Name:        "generate_workout_plan",
		Description: "Generate a workout plan for the user based on focus area and available time.",
		Parameters: []models.Parameter{
			{Name: "focus", Type: models.ParamString, Required: true, Enum: []string{"strength", "cardio", "mobility", "full_body"}},
			{Name: "duration_minutes", Type: models.ParamInteger, Required: true},
		},
	}
}

// GenerateWorkoutPlan builds a simple plan from the requested focus and time.
func GenerateWorkoutPlan(_ context.Context, args models.Args) (json.RawMessage, error) {
	focus, _ := args["focus"].StringVal()
	minutes, ok := args["duration_minutes"].IntVal()
	if !ok || minutes <= 0 {
		return nil, fmt.Errorf("duration_minutes must be a positive integer")
	}

	blocks := []map[string]interface{}{
		{"name": "Warm-up", "minutes": 5},
		{"name": fmt.Sprintf("%s circuit", focus), "minutes": minutes - 10},
		{"name": "Cool-down", "minutes": 5},
	}
	return json.Marshal(map[string]interface{}{
		"status":        "success",
		"focus":         focus,
		"total_minutes": minutes,
		"blocks":        blocks,
	})
}

// LogNutritionSchema declares the nutrition logger.
func LogNutritionSchema() models.FunctionSchema {
	return models.FunctionSchema{
		Name:        "log_nutrition",
		Description: "Log a meal or snack with estimated macros.",
		Parameters: []models.Parameter{
			{Name: "description", Type: models.ParamString, Required: true},
			{Name: "calories", Type: models.ParamInteger, Required: true},
			{Name: "protein_g", Type: models.ParamNumber},
		},
	}
}

// LogNutrition records a nutrition entry.
func LogNutrition(_ context.Context, args models.Args) (json.RawMessage, error) {
	description, _ := args["description"].StringVal()
	calories, ok := args["calories"].IntVal()
	if !ok || calories < 0 {
		return nil, fmt.Errorf("calories must be a non-negative integer")
	}
	protein, _ := args["protein_g"].DoubleVal()

	return json.Marshal(map[string]interface{}{
		"status":      "success",
		"description": description,
		"calories":    calories,
		"protein_g":   protein,
	})
}

// GetSleepDataSchema declares the sleep data fetcher.
func GetSleepDataSchema() models.FunctionSchema {
	return models.FunctionSchema{
		Name:        "get_sleep_data",
		Description: "Fetch the user's most recent sleep data.",
		Parameters:  []models.Parameter{},
	}
}

// GetSleepData returns the latest recorded sleep session.
func GetSleepData(context.Context, models.Args) (json.RawMessage, error) {
	return json.Marshal(map[string]interface{}{
		"status":    "success",
		"hours":     7.2,
		"quality":   "good",
		"bedtime":   "23:10",
		"wake_time": "06:25",
	})
}

// GetWeatherSchema declares the weather lookup.
func GetWeatherSchema() models.FunctionSchema {
	return models.FunctionSchema{
		Name:        "get_weather",
		Description: "Get the current weather for a location, for planning outdoor workouts.",
		Parameters: []models.Parameter{
			{Name: "location", Type: models.ParamString, Required: true},
		},
	}
}

// GetWeather returns the weather for a location.
func GetWeather(_ context.Context, args models.Args) (json.RawMessage, error) {
	location, ok := args["location"].StringVal()
	if !ok || location == "" {
		return nil, fmt.Errorf("location must be a non-empty string")
	}
	return json.Marshal(map[string]interface{}{
		"status":   "success",
		"location": location,
		"summary":  "sunny",
		"temp_f":   72,
	})
}
