package memory

import (
	"context"
	"errors"
	"testing"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/storage"
)

func TestTradeHistoryStore_UpsertTrader(t *testing.T) {
	ctx := context.Background()
	store := NewTradeHistoryStore()

	if err := store.UpsertTrader(ctx, &domain.Trader{TraderID: 7, Server: "Live-1", AlgoTradingPct: 20}); err != nil {
		t.Fatalf("UpsertTrader failed: %v", err)
	}
	// Upsert replaces the row.
	if err := store.UpsertTrader(ctx, &domain.Trader{TraderID: 7, Server: "Live-2", AlgoTradingPct: 80}); err != nil {
		t.Fatalf("UpsertTrader failed: %v", err)
	}

	got, err := store.GetTrader(ctx, 7)
	if err != nil {
		t.Fatalf("GetTrader failed: %v", err)
	}
	if got.Server != "Live-2" || got.AlgoTradingPct != 80 {
		t.Errorf("trader = %+v, want updated row", got)
	}

	if _, err := store.GetTrader(ctx, 8); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetTrader for missing trader = %v, want ErrNotFound", err)
	}
}

func TestTradeHistoryStore_InsertTradeDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewTradeHistoryStore()

	first := &domain.Trade{PositionID: 100, TraderID: 7, Symbol: "EURUSD", Volume: 0.5, OpenTime: 10}
	if err := store.InsertTrade(ctx, first); err != nil {
		t.Fatalf("InsertTrade failed: %v", err)
	}

	// Same position id with a different payload: first payload is retained.
	dup := &domain.Trade{PositionID: 100, TraderID: 7, Symbol: "EURUSD", Volume: 9.9, OpenTime: 10}
	if err := store.InsertTrade(ctx, dup); err != nil {
		t.Fatalf("duplicate InsertTrade returned %v, want nil", err)
	}

	trades, err := store.GetTradesByTraderID(ctx, 7)
	if err != nil {
		t.Fatalf("GetTradesByTraderID failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Volume != 0.5 {
		t.Errorf("Volume = %v, want 0.5 (first payload retained)", trades[0].Volume)
	}
}

func TestTradeHistoryStore_GetTradesOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewTradeHistoryStore()

	for _, tr := range []*domain.Trade{
		{PositionID: 3, TraderID: 7, OpenTime: 200},
		{PositionID: 2, TraderID: 7, OpenTime: 100},
		{PositionID: 1, TraderID: 7, OpenTime: 200},
		{PositionID: 4, TraderID: 9, OpenTime: 50},
	} {
		if err := store.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("InsertTrade failed: %v", err)
		}
	}

	trades, err := store.GetTradesByTraderID(ctx, 7)
	if err != nil {
		t.Fatalf("GetTradesByTraderID failed: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	// open_time ASC, position_id ASC.
	wantOrder := []int64{2, 1, 3}
	for i, want := range wantOrder {
		if trades[i].PositionID != want {
			t.Errorf("position %d: trade %d, want %d", i, trades[i].PositionID, want)
		}
	}
}

func TestTradeHistoryStore_ListTraderIDs(t *testing.T) {
	ctx := context.Background()
	store := NewTradeHistoryStore()

	for _, id := range []int64{9, 7, 8} {
		if err := store.UpsertTrader(ctx, &domain.Trader{TraderID: id}); err != nil {
			t.Fatalf("UpsertTrader failed: %v", err)
		}
	}

	ids, err := store.ListTraderIDs(ctx)
	if err != nil {
		t.Fatalf("ListTraderIDs failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != 7 || ids[1] != 8 || ids[2] != 9 {
		t.Errorf("ids = %v, want [7 8 9]", ids)
	}
}

func TestTradeHistoryStore_InvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewTradeHistoryStore()

	if err := store.UpsertTrader(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("UpsertTrader(nil) = %v, want ErrInvalidInput", err)
	}
	if err := store.InsertTrade(ctx, &domain.Trade{PositionID: 0, TraderID: 7}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("InsertTrade with zero position id = %v, want ErrInvalidInput", err)
	}
	if err := store.InsertTrade(ctx, &domain.Trade{PositionID: 1, TraderID: 0}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("InsertTrade with zero trader id = %v, want ErrInvalidInput", err)
	}
}
