// Package memory provides in-memory store implementations for tests and
// single-process runs without external databases.
package memory

import (
	"context"
	"sort"
	"sync"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/storage"
)

type snapshotKey struct {
	traderID int64
	windowID string
}

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu      sync.RWMutex
	latest  map[snapshotKey]*domain.FeatureSnapshot
	history map[int64][]*domain.FeatureSnapshot // keyed by trader_id
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		latest:  make(map[snapshotKey]*domain.FeatureSnapshot),
		history: make(map[int64][]*domain.FeatureSnapshot),
	}
}

// Put stores a snapshot. Last-writer-wins on InputWatermark per
// trader+window; a stale snapshot is kept as history only.
func (s *SnapshotStore) Put(_ context.Context, snap *domain.FeatureSnapshot) error {
	if snap == nil || snap.TraderID == 0 || snap.WindowID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(snap)
	return nil
}

// PutBulk stores multiple snapshots.
func (s *SnapshotStore) PutBulk(_ context.Context, snapshots []*domain.FeatureSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		if snap == nil || snap.TraderID == 0 || snap.WindowID == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, snap := range snapshots {
		s.put(snap)
	}
	return nil
}

func (s *SnapshotStore) put(snap *domain.FeatureSnapshot) {
	copy := *snap
	s.history[snap.TraderID] = append(s.history[snap.TraderID], &copy)

	key := snapshotKey{traderID: snap.TraderID, windowID: snap.WindowID}
	if cur, exists := s.latest[key]; exists && cur.InputWatermark > copy.InputWatermark {
		return
	}
	s.latest[key] = &copy
}

// GetLatest retrieves the current snapshot for a trader+window.
// Returns ErrNotFound if none exists.
func (s *SnapshotStore) GetLatest(_ context.Context, traderID int64, windowID string) (*domain.FeatureSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.latest[snapshotKey{traderID: traderID, windowID: windowID}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *snap
	return &copy, nil
}

// ListLatest retrieves the current snapshot of every trader for one window,
// ordered by trader_id ASC.
func (s *SnapshotStore) ListLatest(_ context.Context, windowID string) ([]*domain.FeatureSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureSnapshot
	for key, snap := range s.latest {
		if key.windowID == windowID {
			copy := *snap
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TraderID < result[j].TraderID
	})

	return result, nil
}

// GetByTimeRange retrieves a trader's snapshot history with computed_at
// within [start, end] (inclusive), ordered by computed_at ASC.
func (s *SnapshotStore) GetByTimeRange(_ context.Context, traderID int64, start, end int64) ([]*domain.FeatureSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureSnapshot
	for _, snap := range s.history[traderID] {
		if snap.ComputedAt >= start && snap.ComputedAt <= end {
			copy := *snap
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ComputedAt < result[j].ComputedAt
	})

	return result, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
