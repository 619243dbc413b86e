package storage

import (
	"context"

	"chainflow/internal/domain"
)

// TradeStore provides access to the market-trade ledger and its backfill
// checkpoints. Checkpoints live on the same interface because a chunk commit
// must write trades and advance the cursor in one transaction.
type TradeStore interface {
	// InsertBatch adds trades with insert-or-ignore semantics keyed by
	// (chain, trade_id). Returns the number of newly inserted rows;
	// duplicates are absorbed silently.
	InsertBatch(ctx context.Context, trades []*domain.Trade) (int, error)

	// CommitChunk atomically inserts trades and advances the checkpoint.
	// Either both are durable or neither is. Returns newly inserted rows.
	CommitChunk(ctx context.Context, trades []*domain.Trade, cp *domain.Checkpoint) (int, error)

	// GetCheckpoint retrieves the cursor for (chain, dataset).
	// Returns ErrNotFound if no backfill has committed yet.
	GetCheckpoint(ctx context.Context, chain, dataset string) (*domain.Checkpoint, error)

	// GetByChain retrieves all trades for a chain ordered by
	// (event_time, trade_id) ASC.
	GetByChain(ctx context.Context, chain string) ([]*domain.Trade, error)

	// GetByBucketRange retrieves trades for a chain with bucket_ms in
	// [fromMs, toMs], ordered by (event_time, trade_id) ASC.
	GetByBucketRange(ctx context.Context, chain string, fromMs, toMs int64) ([]*domain.Trade, error)

	// CountByChain returns the number of stored trades for a chain.
	CountByChain(ctx context.Context, chain string) (int64, error)
}

// TransferStore provides access to the on-chain transfer ledger.
type TransferStore interface {
	// InsertBatch adds transfers with insert-or-ignore semantics keyed by
	// (chain, txid). Returns the number of newly inserted rows.
	InsertBatch(ctx context.Context, transfers []*domain.Transfer) (int, error)

	// GetByChain retrieves all transfers for a chain ordered by
	// (event_time, txid) ASC.
	GetByChain(ctx context.Context, chain string) ([]*domain.Transfer, error)

	// GetByBucketRange retrieves transfers for a chain with bucket_ms in
	// [fromMs, toMs], ordered by (event_time, txid) ASC.
	GetByBucketRange(ctx context.Context, chain string, fromMs, toMs int64) ([]*domain.Transfer, error)

	// CountByChain returns the number of stored transfers for a chain.
	CountByChain(ctx context.Context, chain string) (int64, error)
}

// ThresholdStore provides access to the per-chain whale thresholds.
type ThresholdStore interface {
	// Put fully replaces the threshold row for the chain.
	Put(ctx context.Context, th *domain.WhaleThreshold) error

	// Get retrieves the current threshold. Returns ErrNotFound if the
	// estimator has never run for the chain.
	Get(ctx context.Context, chain string) (*domain.WhaleThreshold, error)
}

// FlowBucketStore provides access to materialized flow buckets.
type FlowBucketStore interface {
	// ReplaceBatch upserts bucket rows keyed by (chain, bucket_ms),
	// fully replacing any existing values (idempotent upsert).
	ReplaceBatch(ctx context.Context, buckets []*domain.FlowBucket) error

	// GetByChain retrieves all buckets for a chain ordered by bucket_ms ASC.
	GetByChain(ctx context.Context, chain string) ([]*domain.FlowBucket, error)

	// GetByRange retrieves buckets with bucket_ms in [fromMs, toMs],
	// ordered by bucket_ms ASC.
	GetByRange(ctx context.Context, chain string, fromMs, toMs int64) ([]*domain.FlowBucket, error)
}

// PriceBucketStore provides access to materialized price buckets.
type PriceBucketStore interface {
	// ReplaceBatch upserts bucket rows keyed by (chain, bucket_ms),
	// fully replacing any existing values (idempotent upsert).
	ReplaceBatch(ctx context.Context, buckets []*domain.PriceBucket) error

	// GetByChain retrieves all buckets for a chain ordered by bucket_ms ASC.
	GetByChain(ctx context.Context, chain string) ([]*domain.PriceBucket, error)

	// SyncLegacy mirrors a chain's price buckets into the chain-agnostic
	// legacy table consumed by single-asset downstreams.
	SyncLegacy(ctx context.Context, chain string) error
}

// MetricSeriesStore is the analytics sink for derived rolling series.
type MetricSeriesStore interface {
	// InsertBatch appends metric points keyed by
	// (chain, metric, window, timestamp_ms); re-exported points replace
	// previous values on merge.
	InsertBatch(ctx context.Context, points []*domain.MetricPoint) error
}
