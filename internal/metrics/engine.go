package metrics

import (
	"context"
	"fmt"
	"log"
	"math"

	"chainflow/internal/domain"
	"chainflow/internal/storage"
)

// Engine derives rolling series from materialized buckets and exports them to
// the analytics sink. It is a read-only consumer of the bucket tables.
type Engine struct {
	flows      storage.FlowBucketStore
	prices     storage.PriceBucketStore
	series     storage.MetricSeriesStore
	volWindow  int
	corrWindow int
	logger     *log.Logger
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithVolatilityWindow overrides the rolling volatility window.
func WithVolatilityWindow(n int) EngineOption {
	return func(e *Engine) {
		e.volWindow = n
	}
}

// WithCorrelationWindow overrides the rolling correlation window.
func WithCorrelationWindow(n int) EngineOption {
	return func(e *Engine) {
		e.corrWindow = n
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a metrics engine over the given stores.
func NewEngine(flows storage.FlowBucketStore, prices storage.PriceBucketStore, series storage.MetricSeriesStore, opts ...EngineOption) *Engine {
	e := &Engine{
		flows:      flows,
		prices:     prices,
		series:     series,
		volWindow:  DefaultVolatilityWindow,
		corrWindow: DefaultCorrelationWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	return e
}

// Export computes both rolling series for a chain and writes the defined
// points to the sink. Points inside the warmup prefix of a window are omitted.
func (e *Engine) Export(ctx context.Context, chain string) (int, error) {
	prices, err := e.prices.GetByChain(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("load price buckets: %w", err)
	}
	flows, err := e.flows.GetByChain(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("load flow buckets: %w", err)
	}

	points := ComputeVolatility(chain, prices, e.volWindow)
	points = append(points, ComputeFlowReturnCorrelation(chain, flows, prices, e.corrWindow)...)
	if len(points) == 0 {
		return 0, nil
	}

	if err := e.series.InsertBatch(ctx, points); err != nil {
		return 0, fmt.Errorf("insert metric points: %w", err)
	}

	e.logger.Printf("[metrics] chain=%s exported %d points (vol_window=%d corr_window=%d)",
		chain, len(points), e.volWindow, e.corrWindow)
	return len(points), nil
}

// ComputeVolatility produces the rolling stddev of return_5m. Buckets without
// a return are excluded from the series before windowing.
func ComputeVolatility(chain string, prices []*domain.PriceBucket, window int) []*domain.MetricPoint {
	var timestamps []int64
	var returns []float64
	for _, p := range prices {
		if p.Return5m == nil {
			continue
		}
		timestamps = append(timestamps, p.BucketMs)
		returns = append(returns, *p.Return5m)
	}

	return toPoints(chain, domain.MetricVolatility, window, timestamps, rollingStddev(returns, window))
}

// ComputeFlowReturnCorrelation produces the rolling Pearson correlation of
// net_flow against return_5m over the timestamp-aligned inner join of the two
// bucket series.
func ComputeFlowReturnCorrelation(chain string, flows []*domain.FlowBucket, prices []*domain.PriceBucket, window int) []*domain.MetricPoint {
	returnByBucket := make(map[int64]float64, len(prices))
	for _, p := range prices {
		if p.Return5m == nil {
			continue
		}
		returnByBucket[p.BucketMs] = *p.Return5m
	}

	var timestamps []int64
	var netFlows, returns []float64
	for _, f := range flows {
		r, ok := returnByBucket[f.BucketMs]
		if !ok {
			continue
		}
		timestamps = append(timestamps, f.BucketMs)
		netFlows = append(netFlows, f.NetFlow)
		returns = append(returns, r)
	}

	return toPoints(chain, domain.MetricFlowReturnCorr, window, timestamps, rollingCorrelation(netFlows, returns, window))
}

func toPoints(chain, metric string, window int, timestamps []int64, values []float64) []*domain.MetricPoint {
	var out []*domain.MetricPoint
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		out = append(out, &domain.MetricPoint{
			Chain:       chain,
			Metric:      metric,
			Window:      window,
			TimestampMs: timestamps[i],
			Value:       v,
		})
	}
	return out
}
