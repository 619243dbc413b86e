package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// FlowBucketStore implements storage.FlowBucketStore using PostgreSQL.
type FlowBucketStore struct {
	pool *Pool
}

// NewFlowBucketStore creates a new FlowBucketStore.
func NewFlowBucketStore(pool *Pool) *FlowBucketStore {
	return &FlowBucketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FlowBucketStore = (*FlowBucketStore)(nil)

// ReplaceBatch upserts bucket rows, fully replacing existing values.
func (s *FlowBucketStore) ReplaceBatch(ctx context.Context, buckets []*domain.FlowBucket) error {
	if len(buckets) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO flow_buckets (
			chain, bucket_ms, exchange_inflow, exchange_outflow,
			net_flow, whale_volume, whale_count, tx_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain, bucket_ms)
		DO UPDATE SET
			exchange_inflow = EXCLUDED.exchange_inflow,
			exchange_outflow = EXCLUDED.exchange_outflow,
			net_flow = EXCLUDED.net_flow,
			whale_volume = EXCLUDED.whale_volume,
			whale_count = EXCLUDED.whale_count,
			tx_count = EXCLUDED.tx_count
	`

	for _, b := range buckets {
		_, err := tx.Exec(ctx, query,
			b.Chain,
			b.BucketMs,
			b.ExchangeInflow,
			b.ExchangeOutflow,
			b.NetFlow,
			b.WhaleVolume,
			b.WhaleCount,
			b.TxCount,
		)
		if err != nil {
			return fmt.Errorf("replace flow bucket: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByChain retrieves all buckets for a chain ordered by bucket_ms.
func (s *FlowBucketStore) GetByChain(ctx context.Context, chain string) ([]*domain.FlowBucket, error) {
	query := `
		SELECT chain, bucket_ms, exchange_inflow, exchange_outflow,
		       net_flow, whale_volume, whale_count, tx_count
		FROM flow_buckets
		WHERE chain = $1
		ORDER BY bucket_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("get flow buckets by chain: %w", err)
	}
	defer rows.Close()

	return scanFlowBuckets(rows)
}

// GetByRange retrieves buckets with bucket_ms in [fromMs, toMs].
func (s *FlowBucketStore) GetByRange(ctx context.Context, chain string, fromMs, toMs int64) ([]*domain.FlowBucket, error) {
	query := `
		SELECT chain, bucket_ms, exchange_inflow, exchange_outflow,
		       net_flow, whale_volume, whale_count, tx_count
		FROM flow_buckets
		WHERE chain = $1 AND bucket_ms >= $2 AND bucket_ms <= $3
		ORDER BY bucket_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, chain, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("get flow buckets by range: %w", err)
	}
	defer rows.Close()

	return scanFlowBuckets(rows)
}

// scanFlowBuckets scans multiple rows into a slice of FlowBucket.
func scanFlowBuckets(rows pgx.Rows) ([]*domain.FlowBucket, error) {
	var buckets []*domain.FlowBucket

	for rows.Next() {
		var b domain.FlowBucket

		err := rows.Scan(
			&b.Chain,
			&b.BucketMs,
			&b.ExchangeInflow,
			&b.ExchangeOutflow,
			&b.NetFlow,
			&b.WhaleVolume,
			&b.WhaleCount,
			&b.TxCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan flow bucket row: %w", err)
		}

		buckets = append(buckets, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow bucket rows: %w", err)
	}

	return buckets, nil
}
