// coachd is the coaching engine server. It exposes the orchestrator over
// SSE and WebSocket, plus management endpoints for secrets and
// conversation history.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coachd",
		Short:         "AI coaching engine server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(loadSettings())
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("provider", "openai", "active provider (openai, anthropic, gemini)")
	flags.String("model", "gpt-4o-mini", "model name")
	flags.Float64("temperature", 0.7, "sampling temperature")
	flags.String("db", "coach_history.sqlite", "database path or DSN")
	flags.String("db-type", "sqlite", "database type (sqlite, postgres)")
	flags.String("secrets-file", "", "encrypted secrets file (uses env vars when empty)")
	flags.String("log-level", "info", "log level")
	flags.String("refresh-schedule", "@every 5m", "context refresh cron spec")

	// Flags can also come from COACHD_* env vars or a .env file.
	_ = godotenv.Load()
	viper.SetEnvPrefix("coachd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	return cmd
}

type settings struct {
	Addr            string
	Provider        string
	Model           string
	Temperature     float64
	DB              string
	DBType          string
	SecretsFile     string
	LogLevel        string
	RefreshSchedule string
}

func loadSettings() settings {
	return settings{
		Addr:            viper.GetString("addr"),
		Provider:        viper.GetString("provider"),
		Model:           viper.GetString("model"),
		Temperature:     viper.GetFloat64("temperature"),
		DB:              viper.GetString("db"),
		DBType:          viper.GetString("db-type"),
		SecretsFile:     viper.GetString("secrets-file"),
		LogLevel:        viper.GetString("log-level"),
		RefreshSchedule: viper.GetString("refresh-schedule"),
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
