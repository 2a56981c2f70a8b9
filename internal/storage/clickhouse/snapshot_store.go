package clickhouse

import (
	"context"
	"fmt"
	"time"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// Snapshots are append-only rows; "latest" is resolved at read time by
// input watermark, so a stale writer can never clobber a fresher row.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `
	trader_id, window_id, computed_at, input_watermark,
	trade_count, total_volume, win_rate, profit_factor,
	net_profit, avg_profit, avg_holding_hours,
	symbol_entropy, volume_concentration, cost_burden,
	max_drawdown, night_share, algo_trading_pct
`

// Put stores a snapshot.
func (s *SnapshotStore) Put(ctx context.Context, snap *domain.FeatureSnapshot) error {
	return s.PutBulk(ctx, []*domain.FeatureSnapshot{snap})
}

// PutBulk stores multiple snapshots in one batch.
func (s *SnapshotStore) PutBulk(ctx context.Context, snapshots []*domain.FeatureSnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if snap == nil || snap.TraderID == 0 || snap.WindowID == "" {
			return storage.ErrInvalidInput
		}
	}
	defer observability.ObserveDBQuery("clickhouse", "insert_snapshots", time.Now(), &err)

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO feature_snapshots (`+snapshotColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		f := snap.Features
		err = batch.Append(
			snap.TraderID, snap.WindowID, snap.ComputedAt, snap.InputWatermark,
			int32(f.TradeCount), f.TotalVolume, f.WinRate, f.ProfitFactor,
			f.NetProfit, f.AvgProfit, f.AvgHoldingHours,
			f.SymbolEntropy, f.VolumeConcentration, f.CostBurden,
			f.MaxDrawdown, f.NightShare, f.AlgoTradingPct,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetLatest retrieves the current snapshot for a trader+window.
// Returns ErrNotFound if none exists.
func (s *SnapshotStore) GetLatest(ctx context.Context, traderID int64, windowID string) (_ *domain.FeatureSnapshot, err error) {
	defer observability.ObserveDBQuery("clickhouse", "get_latest_snapshot", time.Now(), &err)

	query := `
		SELECT ` + snapshotColumns + `
		FROM feature_snapshots
		WHERE trader_id = ? AND window_id = ?
		ORDER BY input_watermark DESC, computed_at DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, traderID, windowID)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, storage.ErrNotFound
	}
	return snapshots[0], nil
}

// ListLatest retrieves the current snapshot of every trader for one window,
// ordered by trader_id ASC.
func (s *SnapshotStore) ListLatest(ctx context.Context, windowID string) (_ []*domain.FeatureSnapshot, err error) {
	defer observability.ObserveDBQuery("clickhouse", "list_latest_snapshots", time.Now(), &err)

	query := `
		SELECT ` + snapshotColumns + `
		FROM feature_snapshots
		WHERE window_id = ?
		ORDER BY trader_id ASC, input_watermark DESC, computed_at DESC
		LIMIT 1 BY trader_id
	`

	rows, err := s.conn.Query(ctx, query, windowID)
	if err != nil {
		return nil, fmt.Errorf("list latest snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetByTimeRange retrieves a trader's snapshot history with computed_at
// within [start, end] (inclusive), ordered by computed_at ASC.
func (s *SnapshotStore) GetByTimeRange(ctx context.Context, traderID int64, start, end int64) (_ []*domain.FeatureSnapshot, err error) {
	defer observability.ObserveDBQuery("clickhouse", "get_snapshots_by_time_range", time.Now(), &err)

	query := `
		SELECT ` + snapshotColumns + `
		FROM feature_snapshots
		WHERE trader_id = ? AND computed_at >= ? AND computed_at <= ?
		ORDER BY computed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, traderID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query snapshots by time range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// scanSnapshots scans multiple rows into a slice of FeatureSnapshot.
func scanSnapshots(rows chRows) ([]*domain.FeatureSnapshot, error) {
	var snapshots []*domain.FeatureSnapshot

	for rows.Next() {
		var snap domain.FeatureSnapshot
		var tradeCount int32

		err := rows.Scan(
			&snap.TraderID, &snap.WindowID, &snap.ComputedAt, &snap.InputWatermark,
			&tradeCount, &snap.Features.TotalVolume, &snap.Features.WinRate, &snap.Features.ProfitFactor,
			&snap.Features.NetProfit, &snap.Features.AvgProfit, &snap.Features.AvgHoldingHours,
			&snap.Features.SymbolEntropy, &snap.Features.VolumeConcentration, &snap.Features.CostBurden,
			&snap.Features.MaxDrawdown, &snap.Features.NightShare, &snap.Features.AlgoTradingPct,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		snap.Features.TradeCount = int(tradeCount)
		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snapshots, nil
}
