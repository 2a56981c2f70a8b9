package clickhouse

import (
	"context"
	"fmt"
	"time"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/storage"
)

// LabelStore implements storage.LabelStore using ClickHouse. Every round's
// labels are appended; the latest assignment per trader is resolved at read
// time.
type LabelStore struct {
	conn *Conn
}

// NewLabelStore creates a new LabelStore.
func NewLabelStore(conn *Conn) *LabelStore {
	return &LabelStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LabelStore = (*LabelStore)(nil)

const labelColumns = `
	trader_id, archetype, cluster_confidence, assigned_at, model_version
`

// Put stores a label.
func (s *LabelStore) Put(ctx context.Context, l *domain.ArchetypeLabel) error {
	return s.PutBulk(ctx, []*domain.ArchetypeLabel{l})
}

// PutBulk stores multiple labels in one batch.
func (s *LabelStore) PutBulk(ctx context.Context, labels []*domain.ArchetypeLabel) (err error) {
	if len(labels) == 0 {
		return nil
	}
	for _, l := range labels {
		if l == nil || l.TraderID == 0 || l.Archetype == "" {
			return storage.ErrInvalidInput
		}
	}
	defer observability.ObserveDBQuery("clickhouse", "insert_labels", time.Now(), &err)

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO archetype_labels (`+labelColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, l := range labels {
		err = batch.Append(
			l.TraderID, l.Archetype, l.ClusterConfidence, l.AssignedAt, l.ModelVersion,
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

// GetLatest retrieves the current label for a trader.
// Returns ErrNotFound if the trader has never been classified.
func (s *LabelStore) GetLatest(ctx context.Context, traderID int64) (_ *domain.ArchetypeLabel, err error) {
	defer observability.ObserveDBQuery("clickhouse", "get_latest_label", time.Now(), &err)

	query := `
		SELECT ` + labelColumns + `
		FROM archetype_labels
		WHERE trader_id = ?
		ORDER BY assigned_at DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, traderID)
	if err != nil {
		return nil, fmt.Errorf("query latest label: %w", err)
	}
	defer rows.Close()

	labels, err := scanLabels(rows)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, storage.ErrNotFound
	}
	return labels[0], nil
}

// ListLatest retrieves the current label of every classified trader,
// ordered by trader_id ASC.
func (s *LabelStore) ListLatest(ctx context.Context) (_ []*domain.ArchetypeLabel, err error) {
	defer observability.ObserveDBQuery("clickhouse", "list_latest_labels", time.Now(), &err)

	query := `
		SELECT ` + labelColumns + `
		FROM archetype_labels
		ORDER BY trader_id ASC, assigned_at DESC
		LIMIT 1 BY trader_id
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list latest labels: %w", err)
	}
	defer rows.Close()

	return scanLabels(rows)
}

// scanLabels scans multiple rows into a slice of ArchetypeLabel.
func scanLabels(rows chRows) ([]*domain.ArchetypeLabel, error) {
	var labels []*domain.ArchetypeLabel

	for rows.Next() {
		var l domain.ArchetypeLabel

		err := rows.Scan(
			&l.TraderID, &l.Archetype, &l.ClusterConfidence, &l.AssignedAt, &l.ModelVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("scan label row: %w", err)
		}

		labels = append(labels, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label rows: %w", err)
	}

	return labels, nil
}
