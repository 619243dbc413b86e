package clickhouse

import (
	"context"
	"fmt"
	"time"

	"chainflow/internal/domain"
	"chainflow/internal/observability"
	"chainflow/internal/storage"
)

// MetricSeriesStore implements storage.MetricSeriesStore using ClickHouse.
// The backing table is a ReplacingMergeTree keyed by
// (chain, metric, window, timestamp_ms), so re-exported points replace
// previous values on merge.
type MetricSeriesStore struct {
	conn *Conn
}

// NewMetricSeriesStore creates a new MetricSeriesStore.
func NewMetricSeriesStore(conn *Conn) *MetricSeriesStore {
	return &MetricSeriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MetricSeriesStore = (*MetricSeriesStore)(nil)

// InsertBatch appends metric points via a native batch.
func (s *MetricSeriesStore) InsertBatch(ctx context.Context, points []*domain.MetricPoint) (err error) {
	if len(points) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_batch", time.Since(start).Seconds(), err)
	}()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO metric_series (
			chain, metric, window, timestamp_ms, value
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Chain, p.Metric, uint32(p.Window), uint64(p.TimestampMs), p.Value,
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

// GetByChainMetric retrieves points for (chain, metric) ordered by timestamp.
func (s *MetricSeriesStore) GetByChainMetric(ctx context.Context, chain, metric string) ([]*domain.MetricPoint, error) {
	query := `
		SELECT chain, metric, window, timestamp_ms, value
		FROM metric_series FINAL
		WHERE chain = ? AND metric = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, chain, metric)
	if err != nil {
		return nil, fmt.Errorf("query by chain metric: %w", err)
	}
	defer rows.Close()

	return scanMetricPoints(rows)
}

// scanMetricPoints scans multiple rows.
func scanMetricPoints(rows chRows) ([]*domain.MetricPoint, error) {
	var points []*domain.MetricPoint

	for rows.Next() {
		var p domain.MetricPoint
		var window uint32
		var timestampMs uint64

		err := rows.Scan(&p.Chain, &p.Metric, &window, &timestampMs, &p.Value)
		if err != nil {
			return nil, fmt.Errorf("scan metric series row: %w", err)
		}

		p.Window = int(window)
		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric series rows: %w", err)
	}

	return points, nil
}
