package distribution

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
)

// Analyzer derives load balance, parallel efficiency and data locality from
// the node profiles of a run. Only successful nodes take part.
type Analyzer struct {
	config Config
	logger *zap.Logger
}

// NewAnalyzer creates a new distribution analyzer
func NewAnalyzer(config Config, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		config: config,
		logger: logger.Named("distribution-analyzer"),
	}
}

// Analyze returns the distribution section of a profile
func (a *Analyzer) Analyze(nodes []model.NodeProfile) *model.DistributionAnalysis {
	ok := successful(nodes)

	analysis := &model.DistributionAnalysis{
		LoadBalance:        LoadBalance(ok, a.config),
		ParallelEfficiency: ParallelEfficiency(ok, a.config),
		DataLocality:       DataLocality(ok),
	}

	a.logger.Debug("Distribution analysis completed",
		zap.Int("nodes", len(ok)),
		zap.Float64("imbalance", analysis.LoadBalance.Imbalance),
		zap.Float64("efficiency", analysis.ParallelEfficiency.Efficiency),
		zap.Float64("locality", analysis.DataLocality.LocalityScore))

	return analysis
}

// Gini measures the inequality of values, 0 when all are equal. Values are
// ranked ascending with 1-based ranks.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, x := range sorted {
		sum += x
		weighted += float64(2*(i+1)-n-1) * x
	}
	if sum == 0 {
		return 0
	}
	return weighted / (float64(n) * sum)
}

// LoadBalance computes the Gini imbalance and flags nodes far from the mean
func LoadBalance(nodes []model.NodeProfile, config Config) model.LoadBalance {
	lb := model.LoadBalance{
		OverloadedNodes:    []string{},
		UnderutilizedNodes: []string{},
	}
	if len(nodes) == 0 {
		return lb
	}

	times := executionTimes(nodes)
	lb.Imbalance = Gini(times)
	lb.MeanExecutionTime = mean(times)

	for _, n := range nodes {
		switch t := n.ExecutionTime(); {
		case t > config.OverloadFactor*lb.MeanExecutionTime:
			lb.OverloadedNodes = append(lb.OverloadedNodes, n.NodeID)
		case t < config.UnderutilizedFactor*lb.MeanExecutionTime:
			lb.UnderutilizedNodes = append(lb.UnderutilizedNodes, n.NodeID)
		}
	}
	return lb
}

// ParallelEfficiency compares the observed speedup with the Amdahl limit
func ParallelEfficiency(nodes []model.NodeProfile, config Config) model.ParallelEfficiency {
	pe := model.ParallelEfficiency{
		ParallelFraction: config.ParallelFraction,
		NodeCount:        len(nodes),
	}
	if len(nodes) == 0 {
		return pe
	}

	times := executionTimes(nodes)
	n := float64(len(nodes))
	p := config.ParallelFraction

	if avg := mean(times); avg > 0 {
		pe.Speedup = maxOf(times) / avg
	}
	pe.Efficiency = pe.Speedup / n
	pe.AmdahlLimit = 1 / ((1 - p) + p/n)
	return pe
}

// DataLocality sums the reported byte movement. Nodes without a dataMovement
// report fall back to the cross-node bytes of their communication records.
// With nothing reported the score is 1 and Instrumented is false.
func DataLocality(nodes []model.NodeProfile) model.DataLocality {
	dl := model.DataLocality{LocalityScore: 1}

	for _, n := range nodes {
		if dm := n.Profile.DataMovement; dm != nil {
			dl.Instrumented = true
			dl.LocalBytes += dm.LocalBytes
			dl.RemoteBytes += dm.RemoteBytes
			dl.CrossNodeTransfers += dm.Transfers
			continue
		}
		for _, c := range n.Profile.Communications {
			dl.Instrumented = true
			if c.Source == c.Target {
				dl.LocalBytes += c.Bytes
				continue
			}
			dl.RemoteBytes += c.Bytes
			dl.CrossNodeTransfers++
		}
	}

	if total := dl.LocalBytes + dl.RemoteBytes; total > 0 {
		dl.LocalityScore = float64(dl.LocalBytes) / float64(total)
	}
	return dl
}

// Aggregate summarizes the successful nodes. Failed nodes are only counted.
func Aggregate(nodes []model.NodeProfile) model.AggregatedMetrics {
	var m model.AggregatedMetrics

	ok := successful(nodes)
	m.SuccessfulNodes = len(ok)
	m.FailedNodes = len(nodes) - len(ok)
	if len(ok) == 0 {
		return m
	}

	times := executionTimes(ok)
	m.MinExecutionTime = math.Inf(1)
	var cpu float64
	for i, n := range ok {
		t := times[i]
		m.TotalExecutionTime += t
		m.MinExecutionTime = math.Min(m.MinExecutionTime, t)
		m.MaxExecutionTime = math.Max(m.MaxExecutionTime, t)
		m.TotalNetworkTime += n.SynchronizationOverhead

		usage := n.Profile.ResourceUsage
		cpu += usage.CPUPercent
		m.PeakMemoryBytes = max(m.PeakMemoryBytes, usage.PeakMemoryBytes)
		m.TotalDiskIOBytes += usage.DiskIOBytes
		m.TotalNetworkIOBytes += usage.NetworkIOBytes
	}

	count := float64(len(ok))
	m.AverageExecutionTime = m.TotalExecutionTime / count
	m.AverageCPUPercent = cpu / count

	var variance float64
	for _, t := range times {
		d := t - m.AverageExecutionTime
		variance += d * d
	}
	m.StdDevExecutionTime = math.Sqrt(variance / count)
	return m
}

func successful(nodes []model.NodeProfile) []model.NodeProfile {
	ok := make([]model.NodeProfile, 0, len(nodes))
	for _, n := range nodes {
		if n.Succeeded() {
			ok = append(ok, n)
		}
	}
	return ok
}

func executionTimes(nodes []model.NodeProfile) []float64 {
	times := make([]float64, len(nodes))
	for i, n := range nodes {
		times[i] = n.ExecutionTime()
	}
	return times
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		m = math.Max(m, v)
	}
	return m
}
