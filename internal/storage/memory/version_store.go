package memory

import (
	"context"
	"sync"

	"fx-cortex/internal/storage"
)

// VersionStore is an in-memory implementation of storage.VersionStore.
type VersionStore struct {
	mu      sync.RWMutex
	version string
	set     bool
}

// NewVersionStore creates a new in-memory version store.
func NewVersionStore() *VersionStore {
	return &VersionStore{}
}

// SetModelVersion writes the current model version marker.
func (s *VersionStore) SetModelVersion(_ context.Context, version string) error {
	if version == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.version = version
	s.set = true
	return nil
}

// GetModelVersion reads the current model version marker.
// Returns ErrNotFound before the first classifier round.
func (s *VersionStore) GetModelVersion(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return "", storage.ErrNotFound
	}
	return s.version, nil
}

var _ storage.VersionStore = (*VersionStore)(nil)
