package memory

import (
	"context"
	"sort"
	"sync"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/storage"
)

// LabelStore is an in-memory implementation of storage.LabelStore.
type LabelStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.ArchetypeLabel // keyed by trader_id
}

// NewLabelStore creates a new in-memory label store.
func NewLabelStore() *LabelStore {
	return &LabelStore{
		data: make(map[int64]*domain.ArchetypeLabel),
	}
}

// Put stores a label. An older assignment never supersedes a newer one.
func (s *LabelStore) Put(_ context.Context, l *domain.ArchetypeLabel) error {
	if l == nil || l.TraderID == 0 || l.Archetype == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(l)
	return nil
}

// PutBulk stores multiple labels.
func (s *LabelStore) PutBulk(_ context.Context, labels []*domain.ArchetypeLabel) error {
	if len(labels) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range labels {
		if l == nil || l.TraderID == 0 || l.Archetype == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, l := range labels {
		s.put(l)
	}
	return nil
}

func (s *LabelStore) put(l *domain.ArchetypeLabel) {
	if cur, exists := s.data[l.TraderID]; exists && cur.AssignedAt > l.AssignedAt {
		return
	}
	copy := *l
	s.data[l.TraderID] = &copy
}

// GetLatest retrieves the current label for a trader.
// Returns ErrNotFound if the trader has never been classified.
func (s *LabelStore) GetLatest(_ context.Context, traderID int64) (*domain.ArchetypeLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.data[traderID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *l
	return &copy, nil
}

// ListLatest retrieves the current label of every classified trader,
// ordered by trader_id ASC.
func (s *LabelStore) ListLatest(_ context.Context) ([]*domain.ArchetypeLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ArchetypeLabel, 0, len(s.data))
	for _, l := range s.data {
		copy := *l
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TraderID < result[j].TraderID
	})

	return result, nil
}

var _ storage.LabelStore = (*LabelStore)(nil)
