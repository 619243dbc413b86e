package domain

// Metric series names produced by the metrics engine.
const (
	MetricVolatility     = "volatility"
	MetricFlowReturnCorr = "flow_return_corr"
)

// MetricPoint is one point of a derived rolling series (volatility or
// flow/return correlation), aligned to a bucket timestamp.
type MetricPoint struct {
	Chain       string
	Metric      string
	Window      int
	TimestampMs int64
	Value       float64
}
