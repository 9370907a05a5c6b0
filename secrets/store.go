// Package secrets provides cached retrieval and storage of per-provider API
// credentials over a pluggable secure backend.
package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
)

// shapeCheck is the minimal per-provider format validation applied before a
// save. Unknown providers only require a non-empty secret.
type shapeCheck struct {
	pattern *regexp.Regexp
	hint    string
}

var shapeChecks = map[string]shapeCheck{
	"openai":    {regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`), "expected an sk-... key"},
	"anthropic": {regexp.MustCompile(`^sk-ant-[A-Za-z0-9_-]{20,}$`), "expected an sk-ant-... key"},
	"gemini":    {regexp.MustCompile(`^AIza[A-Za-z0-9_-]{30,}$`), "expected an AIza... key"},
}

// Store caches credentials in memory keyed by provider ID to avoid repeated
// secure-storage round-trips. Safe for concurrent use across conversations;
// reads dominate, so a RWMutex guards the cache.
type Store struct {
	backend Backend
	logger  zerolog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "secrets").Logger(),
		cache:   make(map[string]string),
	}
}

// Save validates and persists a credential, then refreshes the cache.
func (s *Store) Save(providerID, secret string) error {
	if err := validateShape(providerID, secret); err != nil {
		return err
	}
	if err := s.backend.Store(providerID, secret); err != nil {
		return fmt.Errorf("failed to store credential for %s: %w", providerID, err)
	}
	s.mu.Lock()
	s.cache[providerID] = secret
	s.mu.Unlock()
	s.logger.Info().Str("provider", providerID).Msg("credential saved")
	return nil
}

// Get returns the credential for a provider, consulting the cache first.
func (s *Store) Get(providerID string) (string, error) {
	s.mu.RLock()
	secret, ok := s.cache[providerID]
	s.mu.RUnlock()
	if ok {
		return secret, nil
	}

	secret, err := s.backend.Load(providerID)
	if errors.Is(err, ErrBackendNotFound) {
		return "", coacherr.New(coacherr.KindSecretNotFound,
			fmt.Sprintf("no API key configured for provider %q", providerID))
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential for %s: %w", providerID, err)
	}

	s.mu.Lock()
	s.cache[providerID] = secret
	s.mu.Unlock()
	return secret, nil
}

// Has reports whether a credential exists without surfacing it.
func (s *Store) Has(providerID string) bool {
	_, err := s.Get(providerID)
	return err == nil
}

// Delete removes a credential from the backend and the cache.
func (s *Store) Delete(providerID string) error {
	s.mu.Lock()
	delete(s.cache, providerID)
	s.mu.Unlock()

	err := s.backend.Delete(providerID)
	if errors.Is(err, ErrBackendNotFound) {
		return coacherr.New(coacherr.KindSecretNotFound,
			fmt.Sprintf("no API key configured for provider %q", providerID))
	}
	if err != nil {
		return fmt.Errorf("failed to delete credential for %s: %w", providerID, err)
	}
	s.logger.Info().Str("provider", providerID).Msg("credential deleted")
	return nil
}

// Invalidate drops a cached credential, used after an authentication failure
// so the next call re-reads the backend.
func (s *Store) Invalidate(providerID string) {
	s.mu.Lock()
	delete(s.cache, providerID)
	s.mu.Unlock()
	s.logger.Warn().Str("provider", providerID).Msg("credential cache invalidated")
}

// ListConfigured returns the providers with stored credentials.
func (s *Store) ListConfigured() ([]string, error) {
	return s.backend.List()
}

func validateShape(providerID, secret string) error {
	if secret == "" {
		return coacherr.New(coacherr.KindInvalidSecretFormat,
			fmt.Sprintf("empty API key for provider %q", providerID))
	}
	check, ok := shapeChecks[providerID]
	if !ok {
		return nil
	}
	if !check.pattern.MatchString(secret) {
		return coacherr.New(coacherr.KindInvalidSecretFormat,
			fmt.Sprintf("API key for %q has the wrong format: %s", providerID, check.hint))
	}
	return nil
}
