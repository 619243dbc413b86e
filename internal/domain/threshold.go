package domain

// WhalePercentile is the trade-size percentile that defines a whale.
const WhalePercentile = 99

// DefaultWhaleThreshold is used before the first estimate has been stored.
const DefaultWhaleThreshold = 100.0

// WhaleThreshold is the single current whale-size threshold for a chain,
// fully replaced on each recomputation. A trade or transfer whose size meets
// or exceeds Value is a whale (inclusive comparison).
type WhaleThreshold struct {
	Chain        string
	Percentile   int
	Value        float64
	ComputedAtMs int64
}
