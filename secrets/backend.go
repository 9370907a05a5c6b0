package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Backend is the persistent store behind the credential cache. The platform
// secure store (Keychain on the client) is out of scope here; the engine
// ships an encrypted-file backend and an env-var backend for development.
type Backend interface {
	Load(providerID string) (string, error)
	Store(providerID, secret string) error
	Delete(providerID string) error
	List() ([]string, error)
}

// ErrBackendNotFound is returned by backends when a provider has no secret.
// The store translates it into the typed SecretNotFound error.
var ErrBackendNotFound = fmt.Errorf("secret not found in backend")

// EnvBackend reads API keys from environment variables
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY), the development path.
// Writes are rejected; the environment is not a writable store.
type EnvBackend struct{}

func envVarFor(providerID string) string {
	return strings.ToUpper(strings.ReplaceAll(providerID, "-", "_")) + "_API_KEY"
}

func (EnvBackend) Load(providerID string) (string, error) {
	v := os.Getenv(envVarFor(providerID))
	if v == "" {
		return "", ErrBackendNotFound
	}
	return v, nil
}

func (EnvBackend) Store(providerID, secret string) error {
	return fmt.Errorf("env backend is read-only")
}

func (EnvBackend) Delete(providerID string) error {
	return fmt.Errorf("env backend is read-only")
}

func (EnvBackend) List() ([]string, error) {
	var out []string
	for _, p := range []string{"openai", "anthropic", "gemini"} {
		if os.Getenv(envVarFor(p)) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// FileBackend persists secrets in a single file sealed with
// XChaCha20-Poly1305. The sealing key is derived from a passphrase supplied
// at construction, which keeps raw credentials off disk.
type FileBackend struct {
	path string
	key  []byte

	mu sync.Mutex
}

func NewFileBackend(path, passphrase string) (*FileBackend, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("file backend requires a passphrase")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return &FileBackend{path: path, key: sum[:]}, nil
}

func (b *FileBackend) Load(providerID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.readAll()
	if err != nil {
		return "", err
	}
	secret, ok := all[providerID]
	if !ok {
		return "", ErrBackendNotFound
	}
	return secret, nil
}

func (b *FileBackend) Store(providerID, secret string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.readAll()
	if err != nil {
		return err
	}
	all[providerID] = secret
	return b.writeAll(all)
}

func (b *FileBackend) Delete(providerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.readAll()
	if err != nil {
		return err
	}
	if _, ok := all[providerID]; !ok {
		return ErrBackendNotFound
	}
	delete(all, providerID)
	return b.writeAll(all)
}

func (b *FileBackend) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all, err := b.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for k := range all {
		out = append(out, k)
	}
	return out, nil
}

func (b *FileBackend) readAll() (map[string]string, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("secret file truncated")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal secret file: %w", err)
	}
	var all map[string]string
	if err := json.Unmarshal(plain, &all); err != nil {
		return nil, fmt.Errorf("corrupt secret file: %w", err)
	}
	return all, nil
}

func (b *FileBackend) writeAll(all map[string]string) error {
	plain, err := json.Marshal(all)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(b.path, sealed, 0o600)
}
