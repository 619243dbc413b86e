package postgres

import (
	"context"
	"fmt"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// ThresholdStore implements storage.ThresholdStore using PostgreSQL.
type ThresholdStore struct {
	pool *Pool
}

// NewThresholdStore creates a new ThresholdStore.
func NewThresholdStore(pool *Pool) *ThresholdStore {
	return &ThresholdStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ThresholdStore = (*ThresholdStore)(nil)

// Put fully replaces the threshold row for the chain.
func (s *ThresholdStore) Put(ctx context.Context, th *domain.WhaleThreshold) error {
	if th == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO whale_thresholds (chain, percentile, threshold_value, computed_at_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain)
		DO UPDATE SET
			percentile = EXCLUDED.percentile,
			threshold_value = EXCLUDED.threshold_value,
			computed_at_ms = EXCLUDED.computed_at_ms
	`, th.Chain, th.Percentile, th.Value, th.ComputedAtMs)
	if err != nil {
		return fmt.Errorf("put threshold: %w", err)
	}

	return nil
}

// Get retrieves the current threshold for a chain.
func (s *ThresholdStore) Get(ctx context.Context, chain string) (*domain.WhaleThreshold, error) {
	var th domain.WhaleThreshold
	err := s.pool.QueryRow(ctx, `
		SELECT chain, percentile, threshold_value, computed_at_ms
		FROM whale_thresholds
		WHERE chain = $1
	`, chain).Scan(&th.Chain, &th.Percentile, &th.Value, &th.ComputedAtMs)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get threshold: %w", err)
	}

	return &th, nil
}
