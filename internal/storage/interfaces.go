package storage

import (
	"context"

	"fx-cortex/internal/domain"
)

// SnapshotStore holds FeatureSnapshots. Put is last-writer-wins on
// InputWatermark per (trader_id, window_id); superseded snapshots remain
// part of the history but stop being the latest.
type SnapshotStore interface {
	// Put stores a snapshot. A snapshot with an InputWatermark older than
	// the current latest for the same trader+window is kept as history but
	// does not supersede it.
	Put(ctx context.Context, s *domain.FeatureSnapshot) error

	// PutBulk stores multiple snapshots.
	PutBulk(ctx context.Context, snapshots []*domain.FeatureSnapshot) error

	// GetLatest retrieves the current snapshot for a trader+window.
	// Returns ErrNotFound if none exists.
	GetLatest(ctx context.Context, traderID int64, windowID string) (*domain.FeatureSnapshot, error)

	// ListLatest retrieves the current snapshot of every trader for one
	// window, ordered by trader_id ASC. This is the classifier's
	// point-in-time input.
	ListLatest(ctx context.Context, windowID string) ([]*domain.FeatureSnapshot, error)

	// GetByTimeRange retrieves a trader's snapshot history with
	// computed_at within [start, end] (inclusive), ordered by computed_at ASC.
	GetByTimeRange(ctx context.Context, traderID int64, start, end int64) ([]*domain.FeatureSnapshot, error)
}

// LabelStore holds ArchetypeLabels. A label is superseded only by a label
// with a newer model version or assignment time for the same trader.
type LabelStore interface {
	// Put stores a label.
	Put(ctx context.Context, l *domain.ArchetypeLabel) error

	// PutBulk stores multiple labels.
	PutBulk(ctx context.Context, labels []*domain.ArchetypeLabel) error

	// GetLatest retrieves the current label for a trader.
	// Returns ErrNotFound if the trader has never been classified.
	GetLatest(ctx context.Context, traderID int64) (*domain.ArchetypeLabel, error)

	// ListLatest retrieves the current label of every classified trader,
	// ordered by trader_id ASC.
	ListLatest(ctx context.Context) ([]*domain.ArchetypeLabel, error)
}

// AnomalyStore is append-only: events are never mutated or deleted.
type AnomalyStore interface {
	// Append adds an anomaly event.
	Append(ctx context.Context, e *domain.AnomalyEvent) error

	// AppendBulk adds multiple anomaly events.
	AppendBulk(ctx context.Context, events []*domain.AnomalyEvent) error

	// GetByTraderID retrieves a trader's events with detected_at within
	// [start, end] (inclusive), ordered by detected_at ASC.
	GetByTraderID(ctx context.Context, traderID int64, start, end int64) ([]*domain.AnomalyEvent, error)
}

// TradeHistoryStore is the durable raw-data contract: traders and trades as
// written by the ETL collaborator, with idempotent upsert semantics. It is
// the authoritative source for full recomputes.
type TradeHistoryStore interface {
	// UpsertTrader inserts or updates a trader row.
	UpsertTrader(ctx context.Context, t *domain.Trader) error

	// InsertTrade inserts a trade. A duplicate position_id is a no-op
	// (first payload retained), mirroring ON CONFLICT DO NOTHING.
	InsertTrade(ctx context.Context, t *domain.Trade) error

	// GetTrader retrieves a trader row. Returns ErrNotFound if not exists.
	GetTrader(ctx context.Context, traderID int64) (*domain.Trader, error)

	// GetTradesByTraderID retrieves all trades for a trader, ordered by
	// open_time ASC, position_id ASC.
	GetTradesByTraderID(ctx context.Context, traderID int64) ([]*domain.Trade, error)

	// ListTraderIDs retrieves all known trader ids, ascending.
	ListTraderIDs(ctx context.Context) ([]int64, error)
}

// VersionStore holds the global model-version marker written by the
// classifier coordinator and polled by workers. No locks on hot-path state.
type VersionStore interface {
	// SetModelVersion writes the current model version marker.
	SetModelVersion(ctx context.Context, version string) error

	// GetModelVersion reads the current model version marker.
	// Returns ErrNotFound before the first classifier round.
	GetModelVersion(ctx context.Context) (string, error)
}
