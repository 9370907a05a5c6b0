package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfit/coachengine/coacherr"
)

// countingBackend wraps a map backend and counts Load calls so cache
// behavior is observable.
type countingBackend struct {
	secrets map[string]string
	loads   int
}

func newCountingBackend() *countingBackend {
	return &countingBackend{secrets: make(map[string]string)}
}

func (b *countingBackend) Load(providerID string) (string, error) {
	b.loads++
	s, ok := b.secrets[providerID]
	if !ok {
		return "", ErrBackendNotFound
	}
	return s, nil
}

func (b *countingBackend) Store(providerID, secret string) error {
	b.secrets[providerID] = secret
	return nil
}

func (b *countingBackend) Delete(providerID string) error {
	if _, ok := b.secrets[providerID]; !ok {
		return ErrBackendNotFound
	}
	delete(b.secrets, providerID)
	return nil
}

func (b *countingBackend) List() ([]string, error) {
	out := make([]string, 0, len(b.secrets))
	for k := range b.secrets {
		out = append(out, k)
	}
	return out, nil
}

const (
	validOpenAIKey    = "sk-test0123456789abcdef0123"
	validAnthropicKey = "sk-ant-REDACTED"
	validGeminiKey    = "AIza" + "0123456789abcdef0123456789abcd"
)

func TestSaveShapeValidation(t *testing.T) {
	store := NewStore(newCountingBackend(), zerolog.Nop())

	require.NoError(t, store.Save("openai", validOpenAIKey))
	require.NoError(t, store.Save("anthropic", validAnthropicKey))
	require.NoError(t, store.Save("gemini", validGeminiKey))

	for provider, bad := range map[string]string{
		"openai":    "not-a-key",
		"anthropic": "sk-wrongprefix0123456789abcdef",
		"gemini":    "AIza-too-short",
	} {
		err := store.Save(provider, bad)
		require.Error(t, err, "provider %s", provider)
		assert.Equal(t, coacherr.KindInvalidSecretFormat, coacherr.KindOf(err))
	}

	err := store.Save("openai", "")
	require.Error(t, err)
	assert.Equal(t, coacherr.KindInvalidSecretFormat, coacherr.KindOf(err))

	// Unknown providers only need a non-empty secret.
	assert.NoError(t, store.Save("localhost", "anything"))
}

func TestGetCachesBackendReads(t *testing.T) {
	backend := newCountingBackend()
	backend.secrets["openai"] = validOpenAIKey
	store := NewStore(backend, zerolog.Nop())

	for i := 0; i < 5; i++ {
		secret, err := store.Get("openai")
		require.NoError(t, err)
		assert.Equal(t, validOpenAIKey, secret)
	}
	assert.Equal(t, 1, backend.loads)
}

func TestGetMissingSecret(t *testing.T) {
	store := NewStore(newCountingBackend(), zerolog.Nop())

	_, err := store.Get("openai")
	require.Error(t, err)
	assert.Equal(t, coacherr.KindSecretNotFound, coacherr.KindOf(err))
}

func TestInvalidateForcesBackendReread(t *testing.T) {
	backend := newCountingBackend()
	backend.secrets["openai"] = validOpenAIKey
	store := NewStore(backend, zerolog.Nop())

	_, err := store.Get("openai")
	require.NoError(t, err)

	// Simulate key rotation behind the engine's back.
	rotated := validOpenAIKey + "rotated"
	backend.secrets["openai"] = rotated
	store.Invalidate("openai")

	secret, err := store.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, rotated, secret)
	assert.Equal(t, 2, backend.loads)
}

func TestDeleteClearsCacheAndBackend(t *testing.T) {
	backend := newCountingBackend()
	store := NewStore(backend, zerolog.Nop())

	require.NoError(t, store.Save("openai", validOpenAIKey))
	require.NoError(t, store.Delete("openai"))
	assert.False(t, store.Has("openai"))

	err := store.Delete("openai")
	require.Error(t, err)
	assert.Equal(t, coacherr.KindSecretNotFound, coacherr.KindOf(err))
}

func TestEnvBackend(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", validOpenAIKey)

	secret, err := EnvBackend{}.Load("openai")
	require.NoError(t, err)
	assert.Equal(t, validOpenAIKey, secret)

	_, err = EnvBackend{}.Load("anthropic")
	assert.ErrorIs(t, err, ErrBackendNotFound)

	assert.Error(t, EnvBackend{}.Store("openai", "x"))
	assert.Error(t, EnvBackend{}.Delete("openai"))

	list, err := EnvBackend{}.List()
	require.NoError(t, err)
	assert.Contains(t, list, "openai")
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.bin")
	backend, err := NewFileBackend(path, "test-passphrase")
	require.NoError(t, err)

	require.NoError(t, backend.Store("openai", validOpenAIKey))
	require.NoError(t, backend.Store("gemini", validGeminiKey))

	// A fresh backend with the same passphrase reads the file.
	again, err := NewFileBackend(path, "test-passphrase")
	require.NoError(t, err)
	secret, err := again.Load("openai")
	require.NoError(t, err)
	assert.Equal(t, validOpenAIKey, secret)

	list, err := again.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"openai", "gemini"}, list)

	// The wrong passphrase cannot unseal.
	wrong, err := NewFileBackend(path, "other-passphrase")
	require.NoError(t, err)
	_, err = wrong.Load("openai")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBackendNotFound)
}

func TestFileBackendCiphertextOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.bin")
	backend, err := NewFileBackend(path, "test-passphrase")
	require.NoError(t, err)
	require.NoError(t, backend.Store("openai", validOpenAIKey))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), validOpenAIKey))
}

func TestFileBackendRequiresPassphrase(t *testing.T) {
	_, err := NewFileBackend("x", "")
	assert.Error(t, err)
}
