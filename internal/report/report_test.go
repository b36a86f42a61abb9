package report_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/report"
)

func TestScorePerfectRun(t *testing.T) {
	p := &model.DistributedProfile{
		AggregatedMetrics: model.AggregatedMetrics{AverageExecutionTime: 100},
		DistributionAnalysis: &model.DistributionAnalysis{
			ParallelEfficiency: model.ParallelEfficiency{Efficiency: 1},
		},
	}
	assert.Equal(t, 100, report.Score(p, report.DefaultScoringConfig()))
}

func TestScorePenalties(t *testing.T) {
	p := &model.DistributedProfile{
		AggregatedMetrics: model.AggregatedMetrics{AverageExecutionTime: 100, StdDevExecutionTime: 25},
		DistributionAnalysis: &model.DistributionAnalysis{
			LoadBalance:        model.LoadBalance{Imbalance: 0.1},
			ParallelEfficiency: model.ParallelEfficiency{Efficiency: 0.5},
		},
		Bottlenecks: make([]model.DistributedBottleneck, 3),
	}
	// 100 - 5 - 3 - 15 - 6
	assert.Equal(t, 71, report.Score(p, report.DefaultScoringConfig()))
}

func TestScoreAlwaysClamped(t *testing.T) {
	cfg := report.DefaultScoringConfig()
	tests := []struct {
		name    string
		profile *model.DistributedProfile
		want    int
	}{
		{"empty", &model.DistributedProfile{}, 100},
		{"all failed", &model.DistributedProfile{
			AggregatedMetrics:    model.AggregatedMetrics{FailedNodes: 3},
			DistributionAnalysis: &model.DistributionAnalysis{},
		}, 70},
		{"efficiency above one", &model.DistributedProfile{
			AggregatedMetrics: model.AggregatedMetrics{AverageExecutionTime: 10},
			DistributionAnalysis: &model.DistributionAnalysis{
				ParallelEfficiency: model.ParallelEfficiency{Efficiency: 5},
			},
		}, 100},
		{"everything wrong", &model.DistributedProfile{
			AggregatedMetrics: model.AggregatedMetrics{AverageExecutionTime: 1, StdDevExecutionTime: 100},
			DistributionAnalysis: &model.DistributionAnalysis{
				LoadBalance:        model.LoadBalance{Imbalance: -0.9},
				ParallelEfficiency: model.ParallelEfficiency{Efficiency: -2},
			},
			Bottlenecks: make([]model.DistributedBottleneck, 50),
		}, 0},
		{"nan", &model.DistributedProfile{
			AggregatedMetrics: model.AggregatedMetrics{AverageExecutionTime: 1, StdDevExecutionTime: math.NaN()},
			DistributionAnalysis: &model.DistributionAnalysis{
				LoadBalance:        model.LoadBalance{Imbalance: math.Inf(1)},
				ParallelEfficiency: model.ParallelEfficiency{Efficiency: math.NaN()},
			},
		}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := report.Score(tt.profile, cfg)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func sampleProfile() *model.DistributedProfile {
	matrix := make(model.LatencyMatrix)
	matrix.Set("node2", "node1", 150)
	matrix.Set("node1", "node3", 20)
	matrix.Set("node1", "node2", 150)
	matrix.Set("node3", "node2", 20)

	return &model.DistributedProfile{
		ID:        "profile-1",
		CodeID:    "code-1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Nodes: []model.NodeProfile{
			{NodeID: "node1", Status: model.NodeStatusSuccess, Profile: model.AgentProfile{
				ExecutionProfile: model.ExecutionProfile{TotalTime: 100},
			}},
			{NodeID: "node2", Status: model.NodeStatusFailed, Error: "deploy failed"},
		},
		AggregatedMetrics: model.AggregatedMetrics{SuccessfulNodes: 1, FailedNodes: 1, TotalExecutionTime: 100},
		NetworkAnalysis: &model.NetworkAnalysis{
			LatencyMatrix: matrix,
			CommunicationPatterns: []model.CommunicationPattern{
				{Type: model.PatternBroadcast, Frequency: 1, Efficiency: 0.8},
			},
			BottleneckLinks: []model.BottleneckLink{{From: "node1", To: "node2", Latency: 150}},
			RoutingRecommendations: []model.RoutingRecommendation{{
				From: "node1", To: "node2", Path: []string{"node1", "node3", "node2"},
				CurrentLatency: 150, AlternateLatency: 40, Improvement: 73.33,
			}},
		},
		DistributionAnalysis: &model.DistributionAnalysis{},
		Bottlenecks: []model.DistributedBottleneck{{
			Type: model.BottleneckIO, Location: "node1->node2", Impact: 10, Nodes: []string{"node1", "node2"},
		}},
		Recommendations: []string{"Reduce traffic"},
		OverallScore:    64,
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	first := report.Render(sampleProfile())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, report.Render(sampleProfile()))
	}
}

func TestRenderSections(t *testing.T) {
	out := report.Render(sampleProfile())

	sections := []string{
		"## Execution Summary",
		"## Per-Node Performance",
		"## Load Distribution",
		"## Parallel Efficiency",
		"## Network Analysis",
		"## Distributed Bottlenecks",
		"## Recommendations",
		"## Resource Utilization",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		assert.Greater(t, idx, last, s)
		last = idx
	}

	assert.Contains(t, out, "**64/100**")
	assert.Contains(t, out, "node1 -> node3 -> node2")
	assert.Contains(t, out, "`node2`: deploy failed")
	assert.Less(t, strings.Index(out, "| node1 | node2 |"), strings.Index(out, "| node2 | node1 |"))
}

func TestRenderWithoutNetwork(t *testing.T) {
	p := sampleProfile()
	p.NetworkAnalysis = nil
	p.DistributionAnalysis = nil

	out := report.Render(p)
	assert.NotContains(t, out, "## Network Analysis")
	assert.Contains(t, out, "Data locality: not instrumented")
}
