package materialize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"chainflow/internal/domain"
	"chainflow/internal/observability"
	"chainflow/internal/storage"
)

// Materializer rebuilds flow and price buckets from the raw ledgers. Every
// bucket row it writes is a pure function of the trades, the transfers, and
// the current whale threshold, so recomputing any range is idempotent and
// reprocessed blocks or refetched chunks can never double-count.
type Materializer struct {
	trades     storage.TradeStore
	transfers  storage.TransferStore
	thresholds storage.ThresholdStore
	flows      storage.FlowBucketStore
	prices     storage.PriceBucketStore
	logger     *log.Logger
}

// MaterializerOption configures Materializer.
type MaterializerOption func(*Materializer)

// WithMaterializerLogger sets the logger.
func WithMaterializerLogger(logger *log.Logger) MaterializerOption {
	return func(m *Materializer) {
		m.logger = logger
	}
}

// NewMaterializer creates a materializer over the given stores.
func NewMaterializer(
	trades storage.TradeStore,
	transfers storage.TransferStore,
	thresholds storage.ThresholdStore,
	flows storage.FlowBucketStore,
	prices storage.PriceBucketStore,
	opts ...MaterializerOption,
) *Materializer {
	m := &Materializer{
		trades:     trades,
		transfers:  transfers,
		thresholds: thresholds,
		flows:      flows,
		prices:     prices,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m
}

// Recompute rebuilds all buckets for a chain from the full ledgers.
func (m *Materializer) Recompute(ctx context.Context, chain string) error {
	trades, err := m.trades.GetByChain(ctx, chain)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	transfers, err := m.transfers.GetByChain(ctx, chain)
	if err != nil {
		return fmt.Errorf("load transfers: %w", err)
	}

	return m.materialize(ctx, chain, trades, transfers, nil)
}

// RecomputeRange rebuilds buckets with bucket_ms in [fromMs, toMs]. The
// return of the first bucket in range is seeded from the latest stored
// price bucket before fromMs, whose own inputs are untouched by this range.
func (m *Materializer) RecomputeRange(ctx context.Context, chain string, fromMs, toMs int64) error {
	trades, err := m.trades.GetByBucketRange(ctx, chain, fromMs, toMs)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	transfers, err := m.transfers.GetByBucketRange(ctx, chain, fromMs, toMs)
	if err != nil {
		return fmt.Errorf("load transfers: %w", err)
	}

	prevClose, err := m.closeBefore(ctx, chain, fromMs)
	if err != nil {
		return err
	}

	return m.materialize(ctx, chain, trades, transfers, prevClose)
}

// materialize aggregates the given ledger slices and overwrites the
// corresponding bucket rows.
func (m *Materializer) materialize(ctx context.Context, chain string, trades []*domain.Trade, transfers []*domain.Transfer, prevClose *float64) error {
	threshold, err := m.loadThreshold(ctx, chain)
	if err != nil {
		return err
	}

	flows := buildFlowBuckets(chain, trades, transfers, threshold)
	prices := buildPriceBuckets(chain, trades, prevClose)

	if err := m.flows.ReplaceBatch(ctx, flows); err != nil {
		return fmt.Errorf("replace flow buckets: %w", err)
	}
	if err := m.prices.ReplaceBatch(ctx, prices); err != nil {
		return fmt.Errorf("replace price buckets: %w", err)
	}
	if chain == domain.ChainEth && len(prices) > 0 {
		if err := m.prices.SyncLegacy(ctx, chain); err != nil {
			return fmt.Errorf("sync legacy price buckets: %w", err)
		}
	}

	observability.RecordBucketsMaterialized(chain, "flow", len(flows))
	observability.RecordBucketsMaterialized(chain, "price", len(prices))
	m.logger.Printf("[materialize] chain=%s threshold=%.6f flow_buckets=%d price_buckets=%d",
		chain, threshold, len(flows), len(prices))

	return nil
}

// loadThreshold reads the current threshold, falling back to the default
// before the first estimate exists.
func (m *Materializer) loadThreshold(ctx context.Context, chain string) (float64, error) {
	th, err := m.thresholds.Get(ctx, chain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.DefaultWhaleThreshold, nil
		}
		return 0, fmt.Errorf("load threshold: %w", err)
	}
	return th.Value, nil
}

// closeBefore finds the close of the latest price bucket strictly before
// fromMs, or nil if none exists.
func (m *Materializer) closeBefore(ctx context.Context, chain string, fromMs int64) (*float64, error) {
	buckets, err := m.prices.GetByChain(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("load price buckets: %w", err)
	}

	var prev *float64
	for _, b := range buckets {
		if b.BucketMs >= fromMs {
			break
		}
		c := b.Close
		prev = &c
	}
	return prev, nil
}

// buildFlowBuckets aggregates trades and transfers into flow buckets.
// Trade flow direction follows the aggressor side: a sell-maker trade is a
// buy aggressor leaving the exchange (outflow), otherwise inflow. Transfer
// direction was classified at ingest against the exchange registry. Whale
// classification is inclusive (>= threshold) over trade quantity and
// transfer amount.
func buildFlowBuckets(chain string, trades []*domain.Trade, transfers []*domain.Transfer, threshold float64) []*domain.FlowBucket {
	byBucket := make(map[int64]*domain.FlowBucket)

	bucket := func(ms int64) *domain.FlowBucket {
		b, ok := byBucket[ms]
		if !ok {
			b = &domain.FlowBucket{Chain: chain, BucketMs: ms}
			byBucket[ms] = b
		}
		return b
	}

	for _, t := range trades {
		b := bucket(t.BucketMs)
		if t.IsSellMaker {
			b.ExchangeOutflow += t.Quantity
		} else {
			b.ExchangeInflow += t.Quantity
		}
		if t.Quantity >= threshold {
			b.WhaleVolume += t.Quantity
			b.WhaleCount++
		}
		b.TxCount++
	}

	for _, tr := range transfers {
		b := bucket(tr.BucketMs)
		b.ExchangeInflow += tr.ExchangeIn
		b.ExchangeOutflow += tr.ExchangeOut
		if tr.Amount >= threshold {
			b.WhaleVolume += tr.Amount
			b.WhaleCount++
		}
		b.TxCount++
	}

	out := make([]*domain.FlowBucket, 0, len(byBucket))
	for _, b := range byBucket {
		b.NetFlow = b.ExchangeOutflow - b.ExchangeInflow
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketMs < out[j].BucketMs })
	return out
}

// buildPriceBuckets derives per-bucket closes and 5m returns from trades.
// The close is the last trade by (event time, trade id). The return is
// relative to the previous existing bucket's close, nil for the first bucket
// or when the previous close is zero.
func buildPriceBuckets(chain string, trades []*domain.Trade, prevClose *float64) []*domain.PriceBucket {
	type closeState struct {
		eventTimeMs int64
		tradeID     int64
		price       float64
	}
	byBucket := make(map[int64]closeState)

	for _, t := range trades {
		cur, ok := byBucket[t.BucketMs]
		if !ok || t.EventTimeMs > cur.eventTimeMs ||
			(t.EventTimeMs == cur.eventTimeMs && t.TradeID > cur.tradeID) {
			byBucket[t.BucketMs] = closeState{t.EventTimeMs, t.TradeID, t.Price}
		}
	}

	bucketsMs := make([]int64, 0, len(byBucket))
	for ms := range byBucket {
		bucketsMs = append(bucketsMs, ms)
	}
	sort.Slice(bucketsMs, func(i, j int) bool { return bucketsMs[i] < bucketsMs[j] })

	out := make([]*domain.PriceBucket, 0, len(bucketsMs))
	prev := prevClose
	for _, ms := range bucketsMs {
		closePrice := byBucket[ms].price
		b := &domain.PriceBucket{Chain: chain, BucketMs: ms, Close: closePrice}
		if prev != nil && *prev != 0 {
			r := (closePrice - *prev) / absFloat(*prev)
			b.Return5m = &r
		}
		c := closePrice
		prev = &c
		out = append(out, b)
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
