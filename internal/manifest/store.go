package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// LockFileName is the advisory lock guarding read-modify-write cycles.
const LockFileName = "manifest.lock"

const lockRetryDelay = 50 * time.Millisecond

// Store owns the manifest file of one data directory. The mutex serializes
// goroutines sharing a Store; the file lock serializes processes.
type Store struct {
	dataDir string
	mu      sync.Mutex
	lock    *flock.Flock
}

// NewStore returns a store for <dataDir>/manifest.json.
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		lock:    flock.New(filepath.Join(dataDir, LockFileName)),
	}
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return Path(s.dataDir)
}

// Exists reports whether a manifest has been written.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load reads the manifest without taking the lock. Readers tolerate a
// concurrent writer because saves are atomic renames.
func (s *Store) Load() (*Manifest, error) {
	return Load(s.Path())
}

// Update runs fn on the current manifest under the file lock and saves the
// result. Nothing is written when fn fails.
func (s *Store) Update(ctx context.Context, fn func(*Manifest) error) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return shelferrors.New(shelferrors.ErrCodeLockHeld,
				"manifest is locked by another shelf process", ctx.Err())
		}
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	if !locked {
		return shelferrors.New(shelferrors.ErrCodeLockHeld,
			"manifest is locked by another shelf process", nil)
	}
	defer func() { _ = s.lock.Unlock() }()

	m, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return m.Save(s.Path())
}

// Replace overwrites the manifest with m under the lock.
func (s *Store) Replace(ctx context.Context, m *Manifest) error {
	return s.Update(ctx, func(current *Manifest) error {
		*current = *m
		return nil
	})
}
