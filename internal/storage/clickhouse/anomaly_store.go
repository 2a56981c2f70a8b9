package clickhouse

import (
	"context"
	"fmt"
	"time"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/storage"
)

// AnomalyStore implements storage.AnomalyStore using ClickHouse.
// Append-only: events are never mutated or deleted.
type AnomalyStore struct {
	conn *Conn
}

// NewAnomalyStore creates a new AnomalyStore.
func NewAnomalyStore(conn *Conn) *AnomalyStore {
	return &AnomalyStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AnomalyStore = (*AnomalyStore)(nil)

const anomalyColumns = `
	trader_id, detected_at, metric, deviation_score, baseline_window
`

// Append adds an anomaly event.
func (s *AnomalyStore) Append(ctx context.Context, e *domain.AnomalyEvent) error {
	return s.AppendBulk(ctx, []*domain.AnomalyEvent{e})
}

// AppendBulk adds multiple anomaly events in one batch.
func (s *AnomalyStore) AppendBulk(ctx context.Context, events []*domain.AnomalyEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.TraderID == 0 || e.Metric == "" {
			return storage.ErrInvalidInput
		}
	}
	defer observability.ObserveDBQuery("clickhouse", "insert_anomalies", time.Now(), &err)

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO anomaly_events (`+anomalyColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.TraderID, e.DetectedAt, e.Metric, e.DeviationScore, e.BaselineWindow,
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

// GetByTraderID retrieves a trader's events with detected_at within
// [start, end] (inclusive), ordered by detected_at ASC.
func (s *AnomalyStore) GetByTraderID(ctx context.Context, traderID int64, start, end int64) (_ []*domain.AnomalyEvent, err error) {
	defer observability.ObserveDBQuery("clickhouse", "get_anomalies_by_trader_id", time.Now(), &err)

	query := `
		SELECT ` + anomalyColumns + `
		FROM anomaly_events
		WHERE trader_id = ? AND detected_at >= ? AND detected_at <= ?
		ORDER BY detected_at ASC
	`

	rows, err := s.conn.Query(ctx, query, traderID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query anomalies by trader id: %w", err)
	}
	defer rows.Close()

	var events []*domain.AnomalyEvent
	for rows.Next() {
		var e domain.AnomalyEvent

		err := rows.Scan(
			&e.TraderID, &e.DetectedAt, &e.Metric, &e.DeviationScore, &e.BaselineWindow,
		)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomaly rows: %w", err)
	}

	return events, nil
}
