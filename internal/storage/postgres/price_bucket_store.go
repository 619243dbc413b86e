package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// PriceBucketStore implements storage.PriceBucketStore using PostgreSQL.
type PriceBucketStore struct {
	pool *Pool
}

// NewPriceBucketStore creates a new PriceBucketStore.
func NewPriceBucketStore(pool *Pool) *PriceBucketStore {
	return &PriceBucketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceBucketStore = (*PriceBucketStore)(nil)

// ReplaceBatch upserts bucket rows, fully replacing existing values.
func (s *PriceBucketStore) ReplaceBatch(ctx context.Context, buckets []*domain.PriceBucket) error {
	if len(buckets) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO price_buckets_chain (chain, bucket_ms, close, return_5m)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain, bucket_ms)
		DO UPDATE SET
			close = EXCLUDED.close,
			return_5m = EXCLUDED.return_5m
	`

	for _, b := range buckets {
		_, err := tx.Exec(ctx, query, b.Chain, b.BucketMs, b.Close, b.Return5m)
		if err != nil {
			return fmt.Errorf("replace price bucket: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByChain retrieves all buckets for a chain ordered by bucket_ms.
func (s *PriceBucketStore) GetByChain(ctx context.Context, chain string) ([]*domain.PriceBucket, error) {
	query := `
		SELECT chain, bucket_ms, close, return_5m
		FROM price_buckets_chain
		WHERE chain = $1
		ORDER BY bucket_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("get price buckets by chain: %w", err)
	}
	defer rows.Close()

	return scanPriceBuckets(rows)
}

// SyncLegacy mirrors a chain's price buckets into the chain-agnostic legacy
// price_buckets table consumed by single-asset downstreams.
func (s *PriceBucketStore) SyncLegacy(ctx context.Context, chain string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_buckets (bucket_ms, close, return_5m)
		SELECT bucket_ms, close, return_5m
		FROM price_buckets_chain
		WHERE chain = $1
		ON CONFLICT (bucket_ms)
		DO UPDATE SET
			close = EXCLUDED.close,
			return_5m = EXCLUDED.return_5m
	`, chain)
	if err != nil {
		return fmt.Errorf("sync legacy price buckets: %w", err)
	}

	return nil
}

// scanPriceBuckets scans multiple rows into a slice of PriceBucket.
func scanPriceBuckets(rows pgx.Rows) ([]*domain.PriceBucket, error) {
	var buckets []*domain.PriceBucket

	for rows.Next() {
		var b domain.PriceBucket

		err := rows.Scan(&b.Chain, &b.BucketMs, &b.Close, &b.Return5m)
		if err != nil {
			return nil, fmt.Errorf("scan price bucket row: %w", err)
		}

		buckets = append(buckets, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price bucket rows: %w", err)
	}

	return buckets, nil
}
