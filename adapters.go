package coachengine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/providers"
	"github.com/airfit/coachengine/providers/anthropic"
	"github.com/airfit/coachengine/providers/gemini"
	"github.com/airfit/coachengine/providers/openai"
)

// NewAdapter returns a fresh wire adapter for the named provider. Adapters
// carry per-stream decode state, so one adapter serves exactly one request.
func NewAdapter(provider string, logger zerolog.Logger) (providers.Adapter, error) {
	switch provider {
	case providers.OpenAI:
		return openai.New(logger), nil
	case providers.Anthropic:
		return anthropic.New(logger), nil
	case providers.Gemini:
		return gemini.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// SupportedProviders lists the providers with a wire adapter, in fallback
// preference order.
func SupportedProviders() []string {
	return []string{
		providers.OpenAI,
		providers.Anthropic,
		providers.Gemini,
	}
}
