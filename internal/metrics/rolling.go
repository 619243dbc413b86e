package metrics

import "math"

// DefaultVolatilityWindow is the trailing bucket count for rolling volatility.
const DefaultVolatilityWindow = 12

// DefaultCorrelationWindow is the trailing bucket count for rolling correlation.
const DefaultCorrelationWindow = 288

// rollingStddev computes the sample standard deviation (n-1 denominator) over
// a trailing window. The result has one entry per input; the first window-1
// entries are NaN since the window is not yet full.
func rollingStddev(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sampleStddev(values[i-window+1 : i+1])
	}
	return out
}

// rollingCorrelation computes the Pearson correlation between two aligned
// series over a trailing window. Entries before the window fills, or where
// either side has zero variance, are NaN.
func rollingCorrelation(xs, ys []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range out {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = pearson(xs[i-window+1:i+1], ys[i-window+1:i+1])
	}
	return out
}

func sampleStddev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return math.NaN()
	}

	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= n
	meanY /= n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varX*varY)
}
