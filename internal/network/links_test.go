package network_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/network"
)

func triangle() model.LatencyMatrix {
	m := make(model.LatencyMatrix)
	m.Set("node1", "node2", 150)
	m.Set("node2", "node1", 150)
	m.Set("node1", "node3", 20)
	m.Set("node3", "node1", 20)
	m.Set("node3", "node2", 20)
	m.Set("node2", "node3", 20)
	return m
}

func TestUsage(t *testing.T) {
	patterns := []model.CommunicationPattern{
		{Type: model.PatternBroadcast, Frequency: 2},
		{Type: model.PatternScatterGather, Frequency: 1},
		{Type: model.PatternPipeline, Frequency: 3},
	}
	assert.InDelta(t, 2*0.5+0.7+3, network.Usage(patterns, network.DefaultConfig().Weights), 1e-9)
}

func TestBottleneckLinks(t *testing.T) {
	patterns := []model.CommunicationPattern{{Type: model.PatternPipeline, Frequency: 2}}

	links := network.BottleneckLinks(triangle(), patterns, network.DefaultConfig())
	require.Len(t, links, 2)

	assert.Equal(t, "node1", links[0].From)
	assert.Equal(t, "node2", links[0].To)
	assert.Equal(t, 150.0, links[0].Latency)
	assert.Equal(t, 2.0, links[0].Usage)
	assert.Equal(t, 20.0, links[0].Impact)
	assert.Equal(t, "node2", links[1].From)
}

func TestBottleneckLinksImpactIsCapped(t *testing.T) {
	patterns := []model.CommunicationPattern{{Type: model.PatternPipeline, Frequency: 50}}

	links := network.BottleneckLinks(triangle(), patterns, network.DefaultConfig())
	require.NotEmpty(t, links)
	assert.Equal(t, 100.0, links[0].Impact)
}

func TestBottleneckLinksBelowThreshold(t *testing.T) {
	m := make(model.LatencyMatrix)
	m.Set("node1", "node2", 100)
	assert.Empty(t, network.BottleneckLinks(m, nil, network.DefaultConfig()))
}

func TestRecommendRoutes(t *testing.T) {
	cfg := network.DefaultConfig()
	m := triangle()
	links := network.BottleneckLinks(m, nil, cfg)

	routes := network.RecommendRoutes(m, links, cfg)
	require.Len(t, routes, 2)

	r := routes[0]
	assert.Equal(t, []string{"node1", "node3", "node2"}, r.Path)
	assert.Equal(t, 150.0, r.CurrentLatency)
	assert.Equal(t, 40.0, r.AlternateLatency)
	assert.InDelta(t, 73.33, r.Improvement, 0.01)
}

func TestRecommendRoutesRequiresMeaningfulImprovement(t *testing.T) {
	m := make(model.LatencyMatrix)
	m.Set("node1", "node2", 150)
	m.Set("node1", "node3", 70)
	m.Set("node3", "node2", 60)

	cfg := network.DefaultConfig()
	links := network.BottleneckLinks(m, nil, cfg)
	require.Len(t, links, 1)

	// 130 is not below 0.8 * 150
	assert.Empty(t, network.RecommendRoutes(m, links, cfg))
}
