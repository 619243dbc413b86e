package domain

// BucketDurationMs is the fixed aggregation grain: 5 minutes.
const BucketDurationMs int64 = 5 * 60 * 1000

// FloorToBucket maps a millisecond timestamp to its 5-minute bucket boundary.
// A timestamp exactly on a boundary maps to itself.
func FloorToBucket(ms int64) int64 {
	return ms - ms%BucketDurationMs
}

// FlowBucket is one 5-minute flow aggregate for a chain. Rows are always the
// result of a full recompute from the raw ledger; there is no incremental
// update path.
type FlowBucket struct {
	Chain           string
	BucketMs        int64
	ExchangeInflow  float64
	ExchangeOutflow float64
	NetFlow         float64 // ExchangeOutflow - ExchangeInflow
	WhaleVolume     float64
	WhaleCount      int
	TxCount         int
}

// PriceBucket is one 5-minute price aggregate for a chain. Close is the price
// of the chronologically last trade in the bucket (ties broken by highest
// trade id). Return5m is nil for the first bucket of a series and whenever
// the previous close is zero.
type PriceBucket struct {
	Chain    string
	BucketMs int64
	Close    float64
	Return5m *float64
}
