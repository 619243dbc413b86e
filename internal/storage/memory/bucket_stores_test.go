package memory

import (
	"context"
	"errors"
	"testing"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

func TestThresholdStore_PutGet(t *testing.T) {
	store := NewThresholdStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, domain.ChainEth); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	err := store.Put(ctx, &domain.WhaleThreshold{Chain: domain.ChainEth, Percentile: 99, Value: 42})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Replacement
	err = store.Put(ctx, &domain.WhaleThreshold{Chain: domain.ChainEth, Percentile: 99, Value: 50})
	if err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	th, err := store.Get(ctx, domain.ChainEth)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if th.Value != 50 {
		t.Errorf("Expected value 50, got %f", th.Value)
	}
}

func TestFlowBucketStore_ReplaceBatchOverwrites(t *testing.T) {
	store := NewFlowBucketStore()
	ctx := context.Background()

	err := store.ReplaceBatch(ctx, []*domain.FlowBucket{
		{Chain: domain.ChainEth, BucketMs: 0, ExchangeInflow: 10},
		{Chain: domain.ChainEth, BucketMs: domain.BucketDurationMs, ExchangeInflow: 20},
	})
	if err != nil {
		t.Fatalf("ReplaceBatch failed: %v", err)
	}

	err = store.ReplaceBatch(ctx, []*domain.FlowBucket{
		{Chain: domain.ChainEth, BucketMs: 0, ExchangeInflow: 99},
	})
	if err != nil {
		t.Fatalf("Second ReplaceBatch failed: %v", err)
	}

	buckets, err := store.GetByChain(ctx, domain.ChainEth)
	if err != nil {
		t.Fatalf("GetByChain failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("Expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].ExchangeInflow != 99 {
		t.Errorf("Expected overwritten inflow 99, got %f", buckets[0].ExchangeInflow)
	}

	ranged, err := store.GetByRange(ctx, domain.ChainEth, 0, domain.BucketDurationMs-1)
	if err != nil {
		t.Fatalf("GetByRange failed: %v", err)
	}
	if len(ranged) != 1 {
		t.Errorf("Expected 1 bucket in range, got %d", len(ranged))
	}
}

func TestPriceBucketStore_SyncLegacy(t *testing.T) {
	store := NewPriceBucketStore()
	ctx := context.Background()

	err := store.ReplaceBatch(ctx, []*domain.PriceBucket{
		{Chain: domain.ChainEth, BucketMs: 0, Close: 100},
		{Chain: domain.ChainBtc, BucketMs: 0, Close: 40000},
	})
	if err != nil {
		t.Fatalf("ReplaceBatch failed: %v", err)
	}

	if err := store.SyncLegacy(ctx, domain.ChainEth); err != nil {
		t.Fatalf("SyncLegacy failed: %v", err)
	}

	legacy, err := store.GetLegacy(ctx)
	if err != nil {
		t.Fatalf("GetLegacy failed: %v", err)
	}
	if len(legacy) != 1 {
		t.Fatalf("Expected 1 legacy bucket, got %d", len(legacy))
	}
	if legacy[0].Close != 100 {
		t.Errorf("Expected legacy close 100, got %f", legacy[0].Close)
	}
}

func TestMetricSeriesStore_InsertReplaces(t *testing.T) {
	store := NewMetricSeriesStore()
	ctx := context.Background()

	point := &domain.MetricPoint{
		Chain:       domain.ChainEth,
		Metric:      domain.MetricVolatility,
		Window:      12,
		TimestampMs: 1000,
		Value:       0.5,
	}
	if err := store.InsertBatch(ctx, []*domain.MetricPoint{point}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	// Re-export with a new value replaces the point
	point.Value = 0.7
	if err := store.InsertBatch(ctx, []*domain.MetricPoint{point}); err != nil {
		t.Fatalf("Second InsertBatch failed: %v", err)
	}

	points, err := store.GetByChainMetric(ctx, domain.ChainEth, domain.MetricVolatility)
	if err != nil {
		t.Fatalf("GetByChainMetric failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(points))
	}
	if points[0].Value != 0.7 {
		t.Errorf("Expected replaced value 0.7, got %f", points[0].Value)
	}
}
