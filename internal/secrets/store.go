// Package secrets keeps provider API keys in a per-user file (0600),
// encrypted with AES-GCM. It is not a replacement for an OS keychain but
// keeps keys out of the plain-text config.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

const fileName = "keys.json"

// ErrNotFound is returned when no key is stored for a provider.
var ErrNotFound = errors.New("secrets: key not found")

type secretFile struct {
	Keys map[string]string `json:"keys"` // provider -> base64(nonce|ciphertext)
}

// Store reads and writes the key file in dir.
type Store struct {
	mu   sync.Mutex
	dir  string
	seed string
}

// NewStore uses dir for the key file; an empty dir means the user config
// directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "saldo")
	}
	return &Store{dir: dir, seed: fmt.Sprintf("saldo-%s-%s", runtime.GOOS, os.Getenv("USER"))}, nil
}

func (s *Store) Set(provider, key string) error {
	if provider = norm(provider); provider == "" {
		return fmt.Errorf("secrets: provider required")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("secrets: key is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return err
	}
	ct, err := s.encrypt([]byte(strings.TrimSpace(key)))
	if err != nil {
		return err
	}
	sf.Keys[provider] = base64.StdEncoding.EncodeToString(ct)
	return s.save(sf)
}

func (s *Store) Get(provider string) (string, error) {
	if provider = norm(provider); provider == "" {
		return "", fmt.Errorf("secrets: provider required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return "", err
	}
	enc, ok := sf.Keys[provider]
	if !ok {
		return "", fmt.Errorf("%s: %w", provider, ErrNotFound)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("secrets: decode %s: %w", provider, err)
	}
	pt, err := s.decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt %s: %w", provider, err)
	}
	return string(pt), nil
}

func (s *Store) Delete(provider string) error {
	if provider = norm(provider); provider == "" {
		return fmt.Errorf("secrets: provider required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := sf.Keys[provider]; !ok {
		return fmt.Errorf("%s: %w", provider, ErrNotFound)
	}
	delete(sf.Keys, provider)
	return s.save(sf)
}

// Providers lists the providers with a stored key.
func (s *Store) Providers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sf.Keys))
	for p := range sf.Keys {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) path() string { return filepath.Join(s.dir, fileName) }

func (s *Store) load() (secretFile, error) {
	sf := secretFile{Keys: map[string]string{}}
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return sf, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("secrets: parse %s: %w", s.path(), err)
	}
	if sf.Keys == nil {
		sf.Keys = map[string]string{}
	}
	return sf, nil
}

func (s *Store) save(sf secretFile) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func (s *Store) gcm() (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(s.seed))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *Store) encrypt(plain []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	body := ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

// Resolver looks up provider keys: environment variable first, then the
// store, then the plain config value.
type Resolver struct {
	Store   *Store
	EnvVars map[string]string // provider -> env var name
	Config  map[string]string // provider -> configured key
}

func (r Resolver) Key(provider string) string {
	provider = norm(provider)
	if name := r.EnvVars[provider]; name != "" {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	if r.Store != nil {
		if v, err := r.Store.Get(provider); err == nil && v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.Config[provider])
}
