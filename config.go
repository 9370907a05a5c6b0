package coachengine

import (
	"sync"

	"github.com/airfit/coachengine/providers"
	"github.com/airfit/coachengine/stores"
)

// Config is the per-turn orchestration configuration. A snapshot is taken
// once at the start of each turn; changes made mid-stream never affect an
// in-flight request.
type Config struct {
	Provider     string
	Model        string
	Temperature  *float64
	MaxTokens    *int
	HistoryLimit int
	// BaseURL overrides the provider's default endpoint when non-empty,
	// e.g. for a proxy or gateway.
	BaseURL string
}

// NewConfig creates a configuration with default values.
func NewConfig() Config {
	return Config{
		Provider:     providers.OpenAI,
		Model:        "gpt-4o-mini",
		HistoryLimit: 20,
	}
}

// WithProvider sets the active provider.
func (c Config) WithProvider(provider string) Config {
	c.Provider = provider
	return c
}

// WithModel sets the model name.
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithTemperature sets the sampling temperature.
func (c Config) WithTemperature(t float64) Config {
	c.Temperature = &t
	return c
}

// WithMaxTokens caps the response length.
func (c Config) WithMaxTokens(n int) Config {
	c.MaxTokens = &n
	return c
}

// WithBaseURL overrides the provider endpoint.
func (c Config) WithBaseURL(url string) Config {
	c.BaseURL = url
	return c
}

// WithHistoryLimit sets how many trailing turns are loaded per request.
func (c Config) WithHistoryLimit(n int) Config {
	c.HistoryLimit = n
	return c
}

// ConfigSource hands out configuration snapshots. Safe for concurrent use;
// Update swaps the whole value atomically so a reader never observes a
// half-applied change.
type ConfigSource struct {
	mu  sync.RWMutex
	cfg Config
}

func NewConfigSource(cfg Config) *ConfigSource {
	return &ConfigSource{cfg: cfg}
}

// Snapshot returns the current configuration by value.
func (s *ConfigSource) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update replaces the configuration for subsequent turns.
func (s *ConfigSource) Update(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// DefaultStore creates the SQLite store used when no explicit store is
// configured.
func DefaultStore() (stores.TurnStore, error) {
	return stores.NewSQLiteStoreDefault()
}
