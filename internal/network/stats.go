package network

import (
	"math"
	"sort"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// LatencyStats summarizes round-trip samples. Percentiles use index floor(q*n).
func LatencyStats(samples []float64) model.LatencyStats {
	if len(samples) == 0 {
		return model.LatencyStats{}
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}

	return model.LatencyStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Average: sum / float64(len(sorted)),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, q float64) float64 {
	idx := int(math.Floor(q * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Jitter is the mean absolute difference between consecutive samples, taken
// in measurement order.
func Jitter(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(samples); i++ {
		total += math.Abs(samples[i] - samples[i-1])
	}
	return total / float64(len(samples)-1)
}
