package materialize

import (
	"context"
	"fmt"
	"log"
	"time"

	"chainflow/internal/domain"
	"chainflow/internal/observability"
	"chainflow/internal/storage"
)

// ThresholdEstimator derives the whale threshold from the trade ledger: the
// 99th percentile of trade quantity per chain, fully replacing the stored
// row on each run.
type ThresholdEstimator struct {
	trades     storage.TradeStore
	thresholds storage.ThresholdStore
	logger     *log.Logger
	now        func() int64
}

// EstimatorOption configures ThresholdEstimator.
type EstimatorOption func(*ThresholdEstimator)

// WithEstimatorLogger sets the logger.
func WithEstimatorLogger(logger *log.Logger) EstimatorOption {
	return func(e *ThresholdEstimator) {
		e.logger = logger
	}
}

// WithEstimatorNow overrides the clock. Used by tests.
func WithEstimatorNow(now func() int64) EstimatorOption {
	return func(e *ThresholdEstimator) {
		e.now = now
	}
}

// NewThresholdEstimator creates an estimator.
func NewThresholdEstimator(trades storage.TradeStore, thresholds storage.ThresholdStore, opts ...EstimatorOption) *ThresholdEstimator {
	e := &ThresholdEstimator{
		trades:     trades,
		thresholds: thresholds,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.now == nil {
		e.now = func() int64 { return time.Now().UnixMilli() }
	}
	return e
}

// Estimate computes and stores the threshold for a chain. With an empty
// ledger nothing is written: a zero threshold would classify every trade as
// a whale, so consumers keep falling back to the default instead.
func (e *ThresholdEstimator) Estimate(ctx context.Context, chain string) (*domain.WhaleThreshold, error) {
	trades, err := e.trades.GetByChain(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	if len(trades) == 0 {
		e.logger.Printf("[materialize] chain=%s no trades, threshold unchanged", chain)
		return nil, storage.ErrNotFound
	}

	quantities := make([]float64, len(trades))
	for i, t := range trades {
		quantities[i] = t.Quantity
	}

	th := &domain.WhaleThreshold{
		Chain:        chain,
		Percentile:   domain.WhalePercentile,
		Value:        percentile(sortedCopy(quantities), float64(domain.WhalePercentile)/100),
		ComputedAtMs: e.now(),
	}

	if err := e.thresholds.Put(ctx, th); err != nil {
		return nil, fmt.Errorf("store threshold: %w", err)
	}

	observability.RecordThreshold(chain, th.Value)
	e.logger.Printf("[materialize] chain=%s threshold p%d=%.6f over %d trades",
		chain, th.Percentile, th.Value, len(trades))

	return th, nil
}
