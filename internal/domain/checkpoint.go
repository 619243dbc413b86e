package domain

// DatasetAggTrades identifies the REST aggregate-trade backfill stream.
// Distinct datasets against the same chain keep separate cursors.
const DatasetAggTrades = "agg_trades_v1"

// Checkpoint is the durable backfill cursor for one (chain, dataset) pair.
// CursorMs is monotonically non-decreasing and only moves after the chunk it
// covers is committed.
type Checkpoint struct {
	Chain       string
	Dataset     string
	CursorMs    int64
	UpdatedAtMs int64
}
