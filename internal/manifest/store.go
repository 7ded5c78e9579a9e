// internal/manifest/store.go
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/grab/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the in-memory record of one session. Resources and actions are
// append-only and the whole record is serialized exactly once by Flush.
type Store struct {
	mu        sync.Mutex
	target    string
	sessionID string
	now       func() time.Time

	resources []schemas.CapturedResource
	byURL     map[string]struct{}
	byPath    map[string]struct{}
	actions   []schemas.ActionRecord
	flushed   bool
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the time source used for action and collection timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(s *Store) { s.sessionID = id }
}

// NewStore creates an empty store for target.
func NewStore(target string, opts ...Option) *Store {
	s := &Store{
		target:    target,
		sessionID: uuid.NewString(),
		now:       time.Now,
		byURL:     make(map[string]struct{}),
		byPath:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID returns the identifier written to the manifest.
func (s *Store) SessionID() string { return s.sessionID }

// Target returns the session's target URL.
func (s *Store) Target() string { return s.target }

// AddResource appends res. A second resource with the same source URL or
// storage path is rejected with ErrDuplicateResource.
func (s *Store) AddResource(res schemas.CapturedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flushed {
		return schemas.ErrManifestFlushed
	}
	if _, ok := s.byURL[res.SourceURL]; ok {
		return fmt.Errorf("%w: url %s", schemas.ErrDuplicateResource, res.SourceURL)
	}
	if _, ok := s.byPath[res.StoragePath]; ok {
		return fmt.Errorf("%w: path %s", schemas.ErrDuplicateResource, res.StoragePath)
	}
	s.byURL[res.SourceURL] = struct{}{}
	s.byPath[res.StoragePath] = struct{}{}
	s.resources = append(s.resources, res)
	return nil
}

// AddAction appends an action stamped with the current time and returns it.
func (s *Store) AddAction(kind schemas.ActionKind, detail string) schemas.ActionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := schemas.ActionRecord{Kind: kind, Detail: detail, PerformedAt: s.now()}
	s.actions = append(s.actions, rec)
	return rec
}

// Resources returns a copy of the captured resources in arrival order.
func (s *Store) Resources() []schemas.CapturedResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.CapturedResource(nil), s.resources...)
}

// Actions returns a copy of the recorded actions in execution order.
func (s *Store) Actions() []schemas.ActionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.ActionRecord(nil), s.actions...)
}

// Snapshot builds the manifest as it would be written now.
func (s *Store) Snapshot() schemas.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() schemas.Manifest {
	m := schemas.Manifest{
		Target:      s.target,
		SessionID:   s.sessionID,
		CollectedAt: s.now(),
		Count:       len(s.resources),
		Actions:     append([]schemas.ActionRecord{}, s.actions...),
		Resources:   append([]schemas.CapturedResource{}, s.resources...),
	}
	return m
}

// Flush writes manifest.json into dir and returns its path. The write goes
// through a temporary file and a rename so readers never see a partial
// manifest. Flush succeeds at most once; afterwards the store is sealed.
func (s *Store) Flush(dir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flushed {
		return "", schemas.ErrManifestFlushed
	}

	data, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create manifest directory %s: %v", schemas.ErrStorage, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return "", fmt.Errorf("%w: create temporary manifest: %v", schemas.ErrStorage, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: write manifest: %v", schemas.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: close manifest: %v", schemas.ErrStorage, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: chmod manifest: %v", schemas.ErrStorage, err)
	}

	final := filepath.Join(dir, schemas.ManifestFileName)
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: rename manifest: %v", schemas.ErrStorage, err)
	}

	s.flushed = true
	return final, nil
}

// Load reads a manifest previously written by Flush.
func Load(path string) (*schemas.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m schemas.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	return &m, nil
}
