package report

import (
	"math"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// ScoringConfig holds the penalty weights of the overall score
type ScoringConfig struct {
	VarianceWeight   float64 `mapstructure:"variance_weight"`
	VarianceCap      float64 `mapstructure:"variance_cap"`
	ImbalanceWeight  float64 `mapstructure:"imbalance_weight"`
	EfficiencyWeight float64 `mapstructure:"efficiency_weight"`
	BottleneckWeight float64 `mapstructure:"bottleneck_weight"`
	BottleneckCap    float64 `mapstructure:"bottleneck_cap"`
}

// DefaultScoringConfig returns the scoring defaults
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		VarianceWeight:   20,
		VarianceCap:      20,
		ImbalanceWeight:  30,
		EfficiencyWeight: 30,
		BottleneckWeight: 2,
		BottleneckCap:    20,
	}
}

// Score rates a profile from 0 to 100. Non-finite intermediate values count
// as no penalty so the result is always a clamped integer.
func Score(p *model.DistributedProfile, config ScoringConfig) int {
	score := 100.0

	m := p.AggregatedMetrics
	if m.AverageExecutionTime > 0 {
		score -= math.Min(config.VarianceCap, finite(m.StdDevExecutionTime/m.AverageExecutionTime)*config.VarianceWeight)
	}

	if d := p.DistributionAnalysis; d != nil {
		score -= finite(math.Abs(d.LoadBalance.Imbalance)) * config.ImbalanceWeight
		score -= finite(1-d.ParallelEfficiency.Efficiency) * config.EfficiencyWeight
	}

	score -= math.Min(config.BottleneckCap, float64(len(p.Bottlenecks))*config.BottleneckWeight)

	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
