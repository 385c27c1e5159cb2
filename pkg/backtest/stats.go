package backtest

import (
	"math"
	"sort"

	"github.com/rus-connect/filterbench/pkg/common"
)

// calculateDistribution calculates statistical distribution metrics
func calculateDistribution(values []float64) common.Distribution {
	if len(values) == 0 {
		return common.Distribution{}
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	sumSquaredDiff := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	stdDev := math.Sqrt(sumSquaredDiff / float64(len(values)))

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return common.Distribution{
		Mean:   mean,
		StdDev: stdDev,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: median,
	}
}

// calculateMaxDrawdown returns the largest peak-to-trough fall of the curve in
// percent of the peak. A curve that never rises above zero has no drawdown.
func calculateMaxDrawdown(equityCurve []common.Point) float64 {
	if len(equityCurve) == 0 {
		return 0
	}

	maxPeak := equityCurve[0].Value
	maxDrawdown := 0.0

	for _, point := range equityCurve {
		if point.Value > maxPeak {
			maxPeak = point.Value
		}
		if maxPeak <= 0 {
			continue
		}

		drawdown := (maxPeak - point.Value) / maxPeak * 100
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}

	return maxDrawdown
}
