package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainflow/internal/domain"
	"chainflow/internal/storage/postgres"
)

func TestPriceBucketStore_ReplaceBatchAndNullReturn(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewPriceBucketStore(pool)

	require.NoError(t, store.ReplaceBatch(ctx, []*domain.PriceBucket{
		{Chain: domain.ChainEth, BucketMs: 0, Close: 100},
		{Chain: domain.ChainEth, BucketMs: domain.BucketDurationMs, Close: 105, Return5m: ptr(0.05)},
	}))

	got, err := store.GetByChain(ctx, domain.ChainEth)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 100.0, got[0].Close)
	assert.Nil(t, got[0].Return5m)
	assert.Equal(t, 105.0, got[1].Close)
	require.NotNil(t, got[1].Return5m)
	assert.Equal(t, 0.05, *got[1].Return5m)

	// Overwrite, including a return going back to null
	require.NoError(t, store.ReplaceBatch(ctx, []*domain.PriceBucket{
		{Chain: domain.ChainEth, BucketMs: domain.BucketDurationMs, Close: 99},
	}))

	got, err = store.GetByChain(ctx, domain.ChainEth)
	require.NoError(t, err)
	assert.Equal(t, 99.0, got[1].Close)
	assert.Nil(t, got[1].Return5m)
}

func TestPriceBucketStore_SyncLegacy(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewPriceBucketStore(pool)

	require.NoError(t, store.ReplaceBatch(ctx, []*domain.PriceBucket{
		{Chain: domain.ChainEth, BucketMs: 0, Close: 100},
		{Chain: domain.ChainEth, BucketMs: domain.BucketDurationMs, Close: 110, Return5m: ptr(0.1)},
		{Chain: domain.ChainBtc, BucketMs: 0, Close: 40000},
	}))

	require.NoError(t, store.SyncLegacy(ctx, domain.ChainEth))

	// Legacy table holds only the mirrored chain, keyed by bucket alone
	rows, err := pool.Query(ctx, `SELECT bucket_ms, close FROM price_buckets ORDER BY bucket_ms`)
	require.NoError(t, err)
	defer rows.Close()

	var bucketsMs []int64
	var closes []float64
	for rows.Next() {
		var ms int64
		var c float64
		require.NoError(t, rows.Scan(&ms, &c))
		bucketsMs = append(bucketsMs, ms)
		closes = append(closes, c)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []int64{0, domain.BucketDurationMs}, bucketsMs)
	assert.Equal(t, []float64{100, 110}, closes)

	// Re-sync after an update overwrites the mirror in place
	require.NoError(t, store.ReplaceBatch(ctx, []*domain.PriceBucket{
		{Chain: domain.ChainEth, BucketMs: 0, Close: 101},
	}))
	require.NoError(t, store.SyncLegacy(ctx, domain.ChainEth))

	var c float64
	require.NoError(t, pool.QueryRow(ctx, `SELECT close FROM price_buckets WHERE bucket_ms = 0`).Scan(&c))
	assert.Equal(t, 101.0, c)
}
