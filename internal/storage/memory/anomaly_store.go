package memory

import (
	"context"
	"sort"
	"sync"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/storage"
)

// AnomalyStore is an in-memory implementation of storage.AnomalyStore.
// Append-only: events are never mutated or deleted.
type AnomalyStore struct {
	mu   sync.RWMutex
	data map[int64][]*domain.AnomalyEvent // keyed by trader_id
}

// NewAnomalyStore creates a new in-memory anomaly store.
func NewAnomalyStore() *AnomalyStore {
	return &AnomalyStore{
		data: make(map[int64][]*domain.AnomalyEvent),
	}
}

// Append adds an anomaly event.
func (s *AnomalyStore) Append(_ context.Context, e *domain.AnomalyEvent) error {
	if e == nil || e.TraderID == 0 || e.Metric == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *e
	s.data[e.TraderID] = append(s.data[e.TraderID], &copy)
	return nil
}

// AppendBulk adds multiple anomaly events.
func (s *AnomalyStore) AppendBulk(_ context.Context, events []*domain.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e == nil || e.TraderID == 0 || e.Metric == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, e := range events {
		copy := *e
		s.data[e.TraderID] = append(s.data[e.TraderID], &copy)
	}
	return nil
}

// GetByTraderID retrieves a trader's events with detected_at within
// [start, end] (inclusive), ordered by detected_at ASC.
func (s *AnomalyStore) GetByTraderID(_ context.Context, traderID int64, start, end int64) ([]*domain.AnomalyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AnomalyEvent
	for _, e := range s.data[traderID] {
		if e.DetectedAt >= start && e.DetectedAt <= end {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt < result[j].DetectedAt
	})

	return result, nil
}

var _ storage.AnomalyStore = (*AnomalyStore)(nil)
