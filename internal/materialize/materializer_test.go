package materialize

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"chainflow/internal/domain"
	"chainflow/internal/storage/memory"
)

const bucketMs = domain.BucketDurationMs

type fixture struct {
	trades     *memory.TradeStore
	transfers  *memory.TransferStore
	thresholds *memory.ThresholdStore
	flows      *memory.FlowBucketStore
	prices     *memory.PriceBucketStore
	mat        *Materializer
}

func newFixture() *fixture {
	f := &fixture{
		trades:     memory.NewTradeStore(),
		transfers:  memory.NewTransferStore(),
		thresholds: memory.NewThresholdStore(),
		flows:      memory.NewFlowBucketStore(),
		prices:     memory.NewPriceBucketStore(),
	}
	f.mat = NewMaterializer(f.trades, f.transfers, f.thresholds, f.flows, f.prices)
	return f
}

func (f *fixture) addTrade(t *testing.T, chain string, id, timeMs int64, price, qty float64, sellMaker bool) {
	t.Helper()
	_, err := f.trades.InsertBatch(context.Background(), []*domain.Trade{{
		Chain:       chain,
		TradeID:     id,
		EventTimeMs: timeMs,
		BucketMs:    domain.FloorToBucket(timeMs),
		Price:       price,
		Quantity:    qty,
		IsSellMaker: sellMaker,
	}})
	require.NoError(t, err)
}

func (f *fixture) addTransfer(t *testing.T, chain, txid string, timeMs int64, amount, in, out float64) {
	t.Helper()
	_, err := f.transfers.InsertBatch(context.Background(), []*domain.Transfer{{
		Chain:       chain,
		TxID:        txid,
		EventTimeMs: timeMs,
		BucketMs:    domain.FloorToBucket(timeMs),
		Amount:      amount,
		ExchangeIn:  in,
		ExchangeOut: out,
	}})
	require.NoError(t, err)
}

func (f *fixture) setThreshold(t *testing.T, chain string, value float64) {
	t.Helper()
	require.NoError(t, f.thresholds.Put(context.Background(), &domain.WhaleThreshold{
		Chain:      chain,
		Percentile: domain.WhalePercentile,
		Value:      value,
	}))
}

func TestRecomputeFlowBuckets(t *testing.T) {
	f := newFixture()
	f.setThreshold(t, domain.ChainEth, 5.0)

	// Bucket 0: buy aggressor 2.0 (inflow), sell aggressor 6.0 (outflow, whale)
	f.addTrade(t, domain.ChainEth, 1, 1000, 100, 2.0, false)
	f.addTrade(t, domain.ChainEth, 2, 2000, 101, 6.0, true)
	// Transfer in bucket 0: deposit 3.0 to exchange, whale on amount 7.0
	f.addTransfer(t, domain.ChainEth, "tx1", 3000, 7.0, 3.0, 0)
	// Bucket 1: single small trade
	f.addTrade(t, domain.ChainEth, 3, bucketMs+1000, 102, 1.0, false)

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))

	flows, err := f.flows.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Len(t, flows, 2)

	b0 := flows[0]
	require.Equal(t, int64(0), b0.BucketMs)
	require.InDelta(t, 5.0, b0.ExchangeInflow, 1e-9)  // 2.0 trade + 3.0 transfer
	require.InDelta(t, 6.0, b0.ExchangeOutflow, 1e-9) // 6.0 sell-maker trade
	require.InDelta(t, 1.0, b0.NetFlow, 1e-9)         // outflow - inflow
	require.InDelta(t, 13.0, b0.WhaleVolume, 1e-9)    // trade 6.0 + transfer 7.0
	require.Equal(t, 2, b0.WhaleCount)
	require.Equal(t, 3, b0.TxCount)

	b1 := flows[1]
	require.Equal(t, int64(bucketMs), b1.BucketMs)
	require.InDelta(t, 1.0, b1.ExchangeInflow, 1e-9)
	require.Zero(t, b1.WhaleCount)
	require.Equal(t, 1, b1.TxCount)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture()
	f.setThreshold(t, domain.ChainEth, 5.0)
	f.addTrade(t, domain.ChainEth, 1, 1000, 100, 2.0, false)
	f.addTransfer(t, domain.ChainEth, "tx1", 2000, 7.0, 3.0, 0)

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))
	first, err := f.flows.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)

	// Recomputing without new data yields identical rows, not doubled ones
	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))
	second, err := f.flows.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestWhaleThresholdInclusive(t *testing.T) {
	f := newFixture()
	f.setThreshold(t, domain.ChainEth, 5.0)
	f.addTrade(t, domain.ChainEth, 1, 1000, 100, 5.0, false)         // exactly at threshold
	f.addTrade(t, domain.ChainEth, 2, 2000, 100, 4.999999999, false) // just under

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))

	flows, err := f.flows.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, 1, flows[0].WhaleCount)
	require.InDelta(t, 5.0, flows[0].WhaleVolume, 1e-9)
}

func TestDefaultThresholdWhenNoneStored(t *testing.T) {
	f := newFixture()
	f.addTrade(t, domain.ChainEth, 1, 1000, 100, domain.DefaultWhaleThreshold, false)
	f.addTrade(t, domain.ChainEth, 2, 2000, 100, domain.DefaultWhaleThreshold-1, false)

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))

	flows, err := f.flows.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Equal(t, 1, flows[0].WhaleCount)
}

func TestPriceBucketsCloseAndReturns(t *testing.T) {
	f := newFixture()

	// Bucket 0: close decided by event time, then trade id on ties
	f.addTrade(t, domain.ChainEth, 1, 1000, 100, 1, false)
	f.addTrade(t, domain.ChainEth, 3, 2000, 105, 1, false) // latest event time wins
	f.addTrade(t, domain.ChainEth, 2, 2000, 104, 1, false) // same time, lower id loses
	// Bucket 2 (bucket 1 empty): return computed against previous existing bucket
	f.addTrade(t, domain.ChainEth, 4, 2*bucketMs+1000, 110.25, 1, false)

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))

	prices, err := f.prices.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Len(t, prices, 2)

	require.Equal(t, int64(0), prices[0].BucketMs)
	require.Equal(t, 105.0, prices[0].Close)
	require.Nil(t, prices[0].Return5m) // first bucket has no previous close

	require.Equal(t, int64(2*bucketMs), prices[1].BucketMs)
	require.Equal(t, 110.25, prices[1].Close)
	require.NotNil(t, prices[1].Return5m)
	require.InDelta(t, (110.25-105.0)/105.0, *prices[1].Return5m, 1e-12)
}

func TestLegacySyncForEthOnly(t *testing.T) {
	f := newFixture()
	f.addTrade(t, domain.ChainEth, 1, 1000, 100, 1, false)
	f.addTrade(t, domain.ChainBtc, 1, 1000, 40000, 1, false)

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))
	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainBtc))

	legacy, err := f.prices.GetLegacy(context.Background())
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	require.Equal(t, domain.ChainEth, legacy[0].Chain)
	require.Equal(t, 100.0, legacy[0].Close)
}

func TestRecomputeRangeSeedsReturnFromPriorBucket(t *testing.T) {
	f := newFixture()
	f.addTrade(t, domain.ChainEth, 1, 1000, 100, 1, false)
	f.addTrade(t, domain.ChainEth, 2, bucketMs+1000, 110, 1, false)

	// Full pass establishes both buckets
	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))

	// New trade lands in bucket 1; narrow recompute of just that bucket
	f.addTrade(t, domain.ChainEth, 3, bucketMs+2000, 121, 1, false)
	require.NoError(t, f.mat.RecomputeRange(context.Background(), domain.ChainEth, bucketMs, 2*bucketMs-1))

	prices, err := f.prices.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Len(t, prices, 2)

	require.Equal(t, 121.0, prices[1].Close)
	require.NotNil(t, prices[1].Return5m)
	require.InDelta(t, 0.21, *prices[1].Return5m, 1e-12)

	// Bucket 0 untouched by the narrow recompute
	require.Equal(t, 100.0, prices[0].Close)
}

func TestRecomputeRangeOnlyTouchesRange(t *testing.T) {
	f := newFixture()
	f.setThreshold(t, domain.ChainEth, 1000)
	f.addTransfer(t, domain.ChainEth, "a", 1000, 1, 1, 0)
	f.addTransfer(t, domain.ChainEth, "b", bucketMs+1000, 2, 0, 2)

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainEth))

	// Another transfer in bucket 1 only
	f.addTransfer(t, domain.ChainEth, "c", bucketMs+2000, 4, 4, 0)
	require.NoError(t, f.mat.RecomputeRange(context.Background(), domain.ChainEth, bucketMs, 2*bucketMs-1))

	flows, err := f.flows.GetByChain(context.Background(), domain.ChainEth)
	require.NoError(t, err)
	require.Len(t, flows, 2)

	require.InDelta(t, 1.0, flows[0].ExchangeInflow, 1e-9) // unchanged
	require.InDelta(t, 4.0, flows[1].ExchangeInflow, 1e-9)
	require.InDelta(t, 2.0, flows[1].ExchangeOutflow, 1e-9)
	require.Equal(t, 2, flows[1].TxCount)
}

func TestEndToEndManyTransfers(t *testing.T) {
	f := newFixture()
	f.setThreshold(t, domain.ChainBtc, 50)

	// 300 transfers across 3 buckets; every 10th is a whale deposit
	whaleVolume := 0.0
	inflow := 0.0
	for i := 0; i < 300; i++ {
		timeMs := int64(i) * (3 * bucketMs / 300)
		amount := 1.0
		in := 0.0
		if i%10 == 0 {
			amount = 60.0
			in = 60.0
			whaleVolume += amount
			inflow += in
		}
		f.addTransfer(t, domain.ChainBtc, fmt.Sprintf("tx%d", i), timeMs, amount, in, 0)
	}

	require.NoError(t, f.mat.Recompute(context.Background(), domain.ChainBtc))

	flows, err := f.flows.GetByChain(context.Background(), domain.ChainBtc)
	require.NoError(t, err)
	require.Len(t, flows, 3)

	totalTx := 0
	gotWhale := 0.0
	gotInflow := 0.0
	for _, b := range flows {
		totalTx += b.TxCount
		gotWhale += b.WhaleVolume
		gotInflow += b.ExchangeInflow
	}
	require.Equal(t, 300, totalTx)
	require.InDelta(t, whaleVolume, gotWhale, 1e-9)
	require.InDelta(t, inflow, gotInflow, 1e-9)
}
