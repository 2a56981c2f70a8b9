package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/storage"
)

// TradeHistoryStore implements storage.TradeHistoryStore using PostgreSQL.
// It mirrors the upstream raw_data schema and is the authoritative source
// for full recomputes.
type TradeHistoryStore struct {
	pool *Pool
}

// NewTradeHistoryStore creates a new TradeHistoryStore.
func NewTradeHistoryStore(pool *Pool) *TradeHistoryStore {
	return &TradeHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeHistoryStore = (*TradeHistoryStore)(nil)

// UpsertTrader inserts or updates a trader row.
func (s *TradeHistoryStore) UpsertTrader(ctx context.Context, t *domain.Trader) (err error) {
	if t == nil || t.TraderID == 0 {
		return storage.ErrInvalidInput
	}
	defer observability.ObserveDBQuery("postgres", "upsert_trader", time.Now(), &err)

	query := `
		INSERT INTO raw_data.traders (
			trader_id, server, algo_trading_pct, url, last_updated
		) VALUES (
			$1, $2, $3, $4, $5
		)
		ON CONFLICT (trader_id) DO UPDATE SET
			server = EXCLUDED.server,
			algo_trading_pct = EXCLUDED.algo_trading_pct,
			url = EXCLUDED.url,
			last_updated = EXCLUDED.last_updated
	`

	_, err = s.pool.Exec(ctx, query,
		t.TraderID, t.Server, t.AlgoTradingPct, t.URL, t.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert trader: %w", err)
	}
	return nil
}

// InsertTrade inserts a trade. A duplicate position_id is a no-op; the first
// payload is retained.
func (s *TradeHistoryStore) InsertTrade(ctx context.Context, t *domain.Trade) (err error) {
	if t == nil || t.PositionID == 0 || t.TraderID == 0 {
		return storage.ErrInvalidInput
	}
	defer observability.ObserveDBQuery("postgres", "insert_trade", time.Now(), &err)

	query := `
		INSERT INTO raw_data.trades (
			position_id, trader_id, symbol, side, volume,
			open_time, open_price, close_time, close_price,
			commission, swap, profit
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)
		ON CONFLICT (position_id) DO NOTHING
	`

	_, err = s.pool.Exec(ctx, query,
		t.PositionID, t.TraderID, t.Symbol, t.Side, t.Volume,
		t.OpenTime, t.OpenPrice, t.CloseTime, t.ClosePrice,
		t.Commission, t.Swap, t.Profit,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrader retrieves a trader row. Returns ErrNotFound if not exists.
func (s *TradeHistoryStore) GetTrader(ctx context.Context, traderID int64) (_ *domain.Trader, err error) {
	defer observability.ObserveDBQuery("postgres", "get_trader", time.Now(), &err)

	query := `
		SELECT trader_id, server, algo_trading_pct, url, last_updated
		FROM raw_data.traders
		WHERE trader_id = $1
	`

	var t domain.Trader
	err = s.pool.QueryRow(ctx, query, traderID).Scan(
		&t.TraderID, &t.Server, &t.AlgoTradingPct, &t.URL, &t.LastUpdated,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trader: %w", err)
	}
	return &t, nil
}

// GetTradesByTraderID retrieves all trades for a trader, ordered by
// open_time ASC, position_id ASC.
func (s *TradeHistoryStore) GetTradesByTraderID(ctx context.Context, traderID int64) (_ []*domain.Trade, err error) {
	defer observability.ObserveDBQuery("postgres", "get_trades_by_trader_id", time.Now(), &err)

	query := `
		SELECT
			position_id, trader_id, symbol, side, volume,
			open_time, open_price, close_time, close_price,
			commission, swap, profit
		FROM raw_data.trades
		WHERE trader_id = $1
		ORDER BY open_time ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, traderID)
	if err != nil {
		return nil, fmt.Errorf("get trades by trader id: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListTraderIDs retrieves all known trader ids, ascending.
func (s *TradeHistoryStore) ListTraderIDs(ctx context.Context) (_ []int64, err error) {
	defer observability.ObserveDBQuery("postgres", "list_trader_ids", time.Now(), &err)

	query := `SELECT trader_id FROM raw_data.traders ORDER BY trader_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list trader ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan trader id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trader id rows: %w", err)
	}

	return ids, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade

		err := rows.Scan(
			&t.PositionID, &t.TraderID, &t.Symbol, &t.Side, &t.Volume,
			&t.OpenTime, &t.OpenPrice, &t.CloseTime, &t.ClosePrice,
			&t.Commission, &t.Swap, &t.Profit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
