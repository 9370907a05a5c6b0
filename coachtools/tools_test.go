package coachtools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coachengine "github.com/airfit/coachengine"
	"github.com/airfit/coachengine/models"
)

func TestRegisterAll(t *testing.T) {
	registry := coachengine.NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterAll(registry))

	names := make(map[string]bool)
	for _, s := range registry.Schemas() {
		names[s.Name] = true
	}
	for _, want := range []string{"generate_workout_plan", "log_nutrition", "get_sleep_data", "get_weather"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestGenerateWorkoutPlan(t *testing.T) {
	payload, err := GenerateWorkoutPlan(context.Background(), models.Args{
		"focus":            models.String("strength"),
		"duration_minutes": models.Int(45),
	})
	require.NoError(t, err)

	var plan struct {
		Status       string `json:"status"`
		TotalMinutes int    `json:"total_minutes"`
		Blocks       []struct {
			Name    string `json:"name"`
			Minutes int    `json:"minutes"`
		} `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(payload, &plan))
	assert.Equal(t, "success", plan.Status)
	assert.Equal(t, 45, plan.TotalMinutes)
	require.Len(t, plan.Blocks, 3)
	assert.Equal(t, "Warm-up", plan.Blocks[0].Name)
	assert.Equal(t, 35, plan.Blocks[1].Minutes)
}

func TestGenerateWorkoutPlanRejectsBadDuration(t *testing.T) {
	_, err := GenerateWorkoutPlan(context.Background(), models.Args{
		"focus":            models.String("cardio"),
		"duration_minutes": models.Int(0),
	})
	assert.Error(t, err)
}

func TestLogNutrition(t *testing.T) {
	payload, err := LogNutrition(context.Background(), models.Args{
		"description": models.String("greek yogurt with berries"),
		"calories":    models.Int(220),
		"protein_g":   models.Double(18.5),
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "greek yogurt")

	_, err = LogNutrition(context.Background(), models.Args{
		"description": models.String("mystery meal"),
		"calories":    models.Int(-10),
	})
	assert.Error(t, err)
}

func TestGetWeather(t *testing.T) {
	payload, err := GetWeather(context.Background(), models.Args{
		"location": models.String("Denver"),
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "Denver")

	_, err = GetWeather(context.Background(), models.Args{})
	assert.Error(t, err)
}

func TestGetSleepData(t *testing.T) {
	payload, err := GetSleepData(context.Background(), models.Args{})
	require.NoError(t, err)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &data))
	assert.Equal(t, "success", data["status"])
}
