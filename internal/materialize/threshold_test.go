package materialize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
	"chainflow/internal/storage/memory"
)

func TestEstimatePercentile(t *testing.T) {
	trades := memory.NewTradeStore()
	thresholds := memory.NewThresholdStore()

	// Quantities 1..100: p99 over sorted values with linear interpolation
	// lands at index 0.99*99 = 98.01 -> 99 + 0.01*(100-99) = 99.01
	batch := make([]*domain.Trade, 0, 100)
	for i := 1; i <= 100; i++ {
		batch = append(batch, &domain.Trade{
			Chain:       domain.ChainEth,
			TradeID:     int64(i),
			EventTimeMs: int64(i),
			Quantity:    float64(i),
		})
	}
	_, err := trades.InsertBatch(context.Background(), batch)
	require.NoError(t, err)

	e := NewThresholdEstimator(trades, thresholds, WithEstimatorNow(func() int64 { return 777 }))
	th, err := e.Estimate(context.Background(), domain.ChainEth)
	require.NoError(t, err)

	require.Equal(t, domain.WhalePercentile, th.Percentile)
	require.InDelta(t, 99.01, th.Value, 1e-9)
	require.Equal(t, int64(777), th.ComputedAtMs)

	stored, err := thresholds.Get(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.InDelta(t, 99.01, stored.Value, 1e-9)
}

func TestEstimateFullyReplacesPrevious(t *testing.T) {
	trades := memory.NewTradeStore()
	thresholds := memory.NewThresholdStore()
	require.NoError(t, thresholds.Put(context.Background(), &domain.WhaleThreshold{
		Chain: domain.ChainEth,
		Value: 12345,
	}))

	_, err := trades.InsertBatch(context.Background(), []*domain.Trade{
		{Chain: domain.ChainEth, TradeID: 1, Quantity: 2.0},
	})
	require.NoError(t, err)

	e := NewThresholdEstimator(trades, thresholds)
	th, err := e.Estimate(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Equal(t, 2.0, th.Value) // single sample

	stored, err := thresholds.Get(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Equal(t, 2.0, stored.Value)
}

func TestEstimateEmptyLedgerWritesNothing(t *testing.T) {
	trades := memory.NewTradeStore()
	thresholds := memory.NewThresholdStore()

	e := NewThresholdEstimator(trades, thresholds)
	_, err := e.Estimate(context.Background(), domain.ChainEth)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = thresholds.Get(context.Background(), domain.ChainEth)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPercentileInterpolation(t *testing.T) {
	require.Equal(t, 0.0, percentile(nil, 0.99))
	require.Equal(t, 7.0, percentile([]float64{7}, 0.99))
	require.InDelta(t, 1.5, percentile([]float64{1, 2}, 0.5), 1e-12)
	require.InDelta(t, 3.97, percentile([]float64{1, 2, 3, 4}, 0.99), 1e-12)
	require.Equal(t, 4.0, percentile([]float64{1, 2, 3, 4}, 1.0))
}
