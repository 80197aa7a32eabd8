package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Fingerprint identifies the configuration a store's data was indexed with.
// A change in either field triggers a migration.
type Fingerprint struct {
	Backend        string `yaml:"backend" json:"backend"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
}

// IsZero reports whether no field is set.
func (f Fingerprint) IsZero() bool {
	return f.Backend == "" && f.EmbeddingModel == ""
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/%s", f.Backend, f.EmbeddingModel)
}

// FingerprintStore persists the fingerprint between runs.
type FingerprintStore interface {
	// Load returns the stored fingerprint and whether one exists.
	Load(ctx context.Context) (Fingerprint, bool, error)
	Save(ctx context.Context, fp Fingerprint) error
	// Lock excludes other migrators until the returned func is called.
	Lock(ctx context.Context) (func(), error)
}

// lockRetryDelay is the poll interval while waiting on another process.
const lockRetryDelay = 100 * time.Millisecond

// FingerprintFile stores the fingerprint as YAML and serialises migrations
// across processes with a lock file at <path>.lock.
type FingerprintFile struct {
	path string
	lock *flock.Flock
}

var _ FingerprintStore = (*FingerprintFile)(nil)

// NewFingerprintFile returns a file-backed fingerprint store.
func NewFingerprintFile(path string) *FingerprintFile {
	return &FingerprintFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the fingerprint file location.
func (f *FingerprintFile) Path() string { return f.path }

// Load reads the fingerprint. Records written with the legacy keys
// vector_config_type and vector_config_model, at the top level or nested
// one level deep, are accepted.
func (f *FingerprintFile) Load(_ context.Context) (Fingerprint, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Fingerprint{}, false, nil
	}
	if err != nil {
		return Fingerprint{}, false, fmt.Errorf("read fingerprint: %w", err)
	}

	fp, err := parseFingerprint(data)
	if err != nil {
		return Fingerprint{}, false, fmt.Errorf("parse fingerprint %s: %w", f.path, err)
	}
	if fp.IsZero() {
		return Fingerprint{}, false, nil
	}
	return fp, true, nil
}

func parseFingerprint(data []byte) (Fingerprint, error) {
	// yaml.v3 also reads the JSON files older versions wrote.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Fingerprint{}, err
	}

	if fp, ok := fingerprintFromMap(raw); ok {
		return fp, nil
	}
	for _, v := range raw {
		if nested, isMap := v.(map[string]any); isMap {
			if fp, ok := fingerprintFromMap(nested); ok {
				return fp, nil
			}
		}
	}
	return Fingerprint{}, nil
}

func fingerprintFromMap(m map[string]any) (Fingerprint, bool) {
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}

	if fp := (Fingerprint{Backend: str("backend"), EmbeddingModel: str("embedding_model")}); !fp.IsZero() {
		return fp, true
	}
	if fp := (Fingerprint{Backend: str("vector_config_type"), EmbeddingModel: str("vector_config_model")}); !fp.IsZero() {
		return fp, true
	}
	return Fingerprint{}, false
}

// Save writes the fingerprint through a temp file and rename.
func (f *FingerprintFile) Save(_ context.Context, fp Fingerprint) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create fingerprint directory: %w", err)
	}

	data, err := yaml.Marshal(fp)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write fingerprint: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename fingerprint: %w", err)
	}
	return nil
}

// Lock blocks until the lock file is held or ctx is done.
func (f *FingerprintFile) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("migration lock %s is held by another process", f.lock.Path())
	}
	return func() { _ = f.lock.Unlock() }, nil
}

// MemoryFingerprint keeps the fingerprint in memory. Used for in-memory
// stores and tests.
type MemoryFingerprint struct {
	mu    sync.Mutex
	fp    Fingerprint
	saved bool
}

var _ FingerprintStore = (*MemoryFingerprint)(nil)

// NewMemoryFingerprint returns an empty store, or one holding fp when given.
func NewMemoryFingerprint(fp ...Fingerprint) *MemoryFingerprint {
	m := &MemoryFingerprint{}
	if len(fp) > 0 {
		m.fp, m.saved = fp[0], true
	}
	return m
}

func (m *MemoryFingerprint) Load(_ context.Context) (Fingerprint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fp, m.saved, nil
}

func (m *MemoryFingerprint) Save(_ context.Context, fp Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fp, m.saved = fp, true
	return nil
}

func (m *MemoryFingerprint) Lock(_ context.Context) (func(), error) {
	return func() {}, nil
}
