package network_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/network"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/testutil"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

func TestLatencyStats(t *testing.T) {
	samples := make([]float64, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, float64(i))
	}

	stats := network.LatencyStats(samples)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 100.0, stats.Max)
	assert.Equal(t, 50.5, stats.Average)
	assert.Equal(t, 96.0, stats.P95)
	assert.Equal(t, 100.0, stats.P99)
}

func TestLatencyStatsSingleSample(t *testing.T) {
	stats := network.LatencyStats([]float64{7})
	assert.Equal(t, model.LatencyStats{Min: 7, Max: 7, Average: 7, P95: 7, P99: 7}, stats)
	assert.Equal(t, model.LatencyStats{}, network.LatencyStats(nil))
}

func TestJitter(t *testing.T) {
	assert.Equal(t, 0.0, network.Jitter([]float64{5}))
	assert.Equal(t, 0.0, network.Jitter([]float64{3, 3, 3}))
	assert.InDelta(t, 4.0, network.Jitter([]float64{1, 5, 1, 5}), 1e-9)
}

func connect(t *testing.T, agents ...*testutil.FakeAgent) []*transport.Connection {
	t.Helper()
	dialer := testutil.NewPipeDialer()
	for _, a := range agents {
		dialer.Handle(a.NodeID, a.Handle)
	}

	cfg := transport.DefaultConfig()
	cfg.Timeout = 500 * time.Millisecond
	m := transport.NewManager(dialer, "session-network", cfg, zap.NewNop())
	t.Cleanup(m.CloseAll)

	conns := make([]*transport.Connection, 0, len(agents))
	for _, a := range agents {
		conn, err := m.Connect(context.Background(), model.NodeConfig{ID: a.NodeID})
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	return conns
}

func testConfig() network.Config {
	cfg := network.DefaultConfig()
	cfg.PingSamples = 5
	cfg.PingTimeout = 200 * time.Millisecond
	cfg.PayloadSizes = []int{1024}
	return cfg
}

func TestMeasureNode(t *testing.T) {
	conns := connect(t, testutil.NewFakeAgent("node1", 10))
	analyzer := network.NewAnalyzer(testConfig(), zap.NewNop())

	metrics, err := analyzer.MeasureNode(context.Background(), conns[0])
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.Hops)
	assert.Zero(t, metrics.PacketLoss)
	assert.GreaterOrEqual(t, metrics.Latency.Max, metrics.Latency.Min)
	assert.GreaterOrEqual(t, metrics.Bandwidth.Utilization, 0.0)
	assert.LessOrEqual(t, metrics.Bandwidth.Utilization, 1.0)
}

func TestMeasureLatencyAllLost(t *testing.T) {
	agent := testutil.NewFakeAgent("node1", 10)
	agent.SilentOn[protocol.TypePing] = true
	conns := connect(t, agent)

	cfg := testConfig()
	cfg.PingSamples = 2
	cfg.PingTimeout = 10 * time.Millisecond
	analyzer := network.NewAnalyzer(cfg, zap.NewNop())

	_, loss, err := analyzer.MeasureLatency(context.Background(), conns[0])
	require.ErrorIs(t, err, network.ErrNoLatencySamples)
	assert.Equal(t, 1.0, loss)
}

func TestMeasureContention(t *testing.T) {
	agent := testutil.NewFakeAgent("node1", 10)
	agent.Contention = model.ResourceContention{CPUContention: 0.4, LoadAverage: 1.5}
	conns := connect(t, agent)

	analyzer := network.NewAnalyzer(testConfig(), zap.NewNop())
	got, err := analyzer.MeasureContention(context.Background(), conns[0])
	require.NoError(t, err)
	assert.Equal(t, agent.Contention, got)
}

func TestLatencyMatrix(t *testing.T) {
	a1 := testutil.NewFakeAgent("node1", 10)
	a1.Latencies["node2"] = 150
	a1.Latencies["node3"] = 20
	a2 := testutil.NewFakeAgent("node2", 10)
	a2.Latencies["node1"] = 150
	a2.Latencies["node3"] = 20
	a3 := testutil.NewFakeAgent("node3", 10)
	a3.Latencies["node1"] = 20
	a3.Latencies["node2"] = 20

	for _, sequential := range []bool{true, false} {
		cfg := testConfig()
		cfg.Sequential = sequential
		analyzer := network.NewAnalyzer(cfg, zap.NewNop())

		matrix := analyzer.LatencyMatrix(context.Background(), connect(t, a1, a2, a3))
		got, ok := matrix.Get("node1", "node2")
		require.True(t, ok)
		assert.Equal(t, 150.0, got)
		_, ok = matrix.Get("node1", "node1")
		assert.False(t, ok)

		analysis := analyzer.Analyze(matrix, nil)
		require.Len(t, analysis.BottleneckLinks, 2)
		require.Len(t, analysis.RoutingRecommendations, 2)
		assert.Equal(t, []string{"node1", "node3", "node2"}, analysis.RoutingRecommendations[0].Path)
	}
}
