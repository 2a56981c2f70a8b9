package memory

import (
	"context"
	"sort"
	"sync"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/storage"
)

// TradeHistoryStore is an in-memory implementation of
// storage.TradeHistoryStore with the same upsert semantics as the Postgres
// implementation.
type TradeHistoryStore struct {
	mu      sync.RWMutex
	traders map[int64]*domain.Trader
	trades  map[int64]*domain.Trade // keyed by position_id
}

// NewTradeHistoryStore creates a new in-memory trade history store.
func NewTradeHistoryStore() *TradeHistoryStore {
	return &TradeHistoryStore{
		traders: make(map[int64]*domain.Trader),
		trades:  make(map[int64]*domain.Trade),
	}
}

// UpsertTrader inserts or updates a trader row.
func (s *TradeHistoryStore) UpsertTrader(_ context.Context, t *domain.Trader) error {
	if t == nil || t.TraderID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *t
	s.traders[t.TraderID] = &copy
	return nil
}

// InsertTrade inserts a trade. A duplicate position_id is a no-op; the first
// payload is retained.
func (s *TradeHistoryStore) InsertTrade(_ context.Context, t *domain.Trade) error {
	if t == nil || t.PositionID == 0 || t.TraderID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[t.PositionID]; exists {
		return nil
	}

	copy := *t
	s.trades[t.PositionID] = &copy
	return nil
}

// GetTrader retrieves a trader row. Returns ErrNotFound if not exists.
func (s *TradeHistoryStore) GetTrader(_ context.Context, traderID int64) (*domain.Trader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.traders[traderID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// GetTradesByTraderID retrieves all trades for a trader, ordered by
// open_time ASC, position_id ASC.
func (s *TradeHistoryStore) GetTradesByTraderID(_ context.Context, traderID int64) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.trades {
		if t.TraderID == traderID {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenTime != result[j].OpenTime {
			return result[i].OpenTime < result[j].OpenTime
		}
		return result[i].PositionID < result[j].PositionID
	})

	return result, nil
}

// ListTraderIDs retrieves all known trader ids, ascending.
func (s *TradeHistoryStore) ListTraderIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.traders))
	for id := range s.traders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids, nil
}

var _ storage.TradeHistoryStore = (*TradeHistoryStore)(nil)
