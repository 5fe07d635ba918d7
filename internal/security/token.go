package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Credential is the single long-lived secret that authorizes callers.
type Credential struct {
	Value     string
	CreatedAt time.Time
}

// TokenStore owns the credential: load it, mint a new one, revoke it.
// The persisted record is the source of truth; revocation must be visible
// on the very next Get.
type TokenStore interface {
	// Get returns the active credential, or ok=false when none exists.
	Get() (Credential, bool, error)
	// Generate mints a fresh credential and persists it, replacing any
	// existing one.
	Generate() (Credential, error)
	// Revoke deletes the persisted credential. Revoking an already
	// absent credential is not an error.
	Revoke() error
}

// FileTokenStore persists the credential as a single file, mode 0600.
// Deleting that file is the documented revocation mechanism, so Get
// re-reads the file on every call rather than caching.
type FileTokenStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileTokenStore creates a store backed by the given file path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Get() (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, false, nil
		}
		return Credential{}, false, fmt.Errorf("read token file: %w", err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return Credential{}, false, nil
	}

	created := time.Time{}
	if info, err := os.Stat(s.path); err == nil {
		created = info.ModTime()
	}

	return Credential{Value: value, CreatedAt: created}, true, nil
}

func (s *FileTokenStore) Generate() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Credential{}, fmt.Errorf("generate token: %w", err)
	}
	value := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return Credential{}, fmt.Errorf("create token dir: %w", err)
	}

	// Write-then-rename so a concurrent Get never sees a half-written
	// token file.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".token-*")
	if err != nil {
		return Credential{}, fmt.Errorf("stage token file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Credential{}, fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Credential{}, fmt.Errorf("chmod token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Credential{}, fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return Credential{}, fmt.Errorf("install token file: %w", err)
	}

	return Credential{Value: value, CreatedAt: time.Now()}, nil
}

func (s *FileTokenStore) Revoke() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Path returns the token file location.
func (s *FileTokenStore) Path() string {
	return s.path
}

// MemoryTokenStore keeps the credential in memory. Used by tests so the
// auth path can be exercised without touching disk.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	cred *Credential
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Get() (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false, nil
	}
	return *s.cred, true, nil
}

func (s *MemoryTokenStore) Generate() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Credential{}, fmt.Errorf("generate token: %w", err)
	}
	cred := Credential{Value: hex.EncodeToString(buf), CreatedAt: time.Now()}
	s.cred = &cred
	return cred, nil
}

func (s *MemoryTokenStore) Revoke() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

// Set installs a known credential value (test helper).
func (s *MemoryTokenStore) Set(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &Credential{Value: value, CreatedAt: time.Now()}
}

// Fingerprint returns a short, non-reversible identifier for a credential,
// safe to show in logs and the health endpoint.
func Fingerprint(value string) string {
	sum := blake2b.Sum256([]byte(value))
	return hex.EncodeToString(sum[:4])
}
