package agent_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/agent"
	"github.com/t77yq/distributed-profiler/internal/coordinator"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/testutil"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

func startAgent(t *testing.T, url, nodeID string) *agent.Agent {
	t.Helper()

	cfg := agent.DefaultConfig()
	cfg.NodeID = nodeID
	cfg.WorkDir = t.TempDir()
	cfg.Monitor.SampleInterval = 20 * time.Millisecond

	a := agent.NewAgent(cfg, testutil.Connect(t, url), zap.NewNop())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)
	return a
}

func coordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.RPC.Timeout = 2 * time.Second
	cfg.ClockSync.Probes = 3
	cfg.Network.PingSamples = 3
	cfg.Network.PayloadSizes = []int{1024}
	return cfg
}

func TestEndToEndOverNATS(t *testing.T) {
	_, url := testutil.StartServer(t)
	startAgent(t, url, "node1")
	startAgent(t, url, "node2")

	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())
	coord := coordinator.NewCoordinator(dialer, coordinatorConfig(), zap.NewNop())

	profile, err := coord.Profile(context.Background(), coordinator.Request{
		CodeID: "sleep",
		Code:   "sleep 0.05; echo done",
		Nodes: []model.NodeConfig{
			{ID: "node1", Endpoint: url},
			{ID: "node2", Endpoint: url},
		},
		Options: coordinator.Options{
			Duration:                  10 * time.Second,
			IncludeNetworkAnalysis:    true,
			IncludeResourceContention: true,
		},
	})
	require.NoError(t, err)

	require.Len(t, profile.Nodes, 2)
	for _, n := range profile.Nodes {
		assert.Equal(t, model.NodeStatusSuccess, n.Status, n.Error)
		assert.GreaterOrEqual(t, n.ExecutionTime(), 40.0)
		assert.Contains(t, n.Profile.ExecutionProfile.Output, "done")
		assert.Equal(t, 0, n.Profile.ExecutionProfile.ExitCode)
	}

	require.NotNil(t, profile.NetworkAnalysis)
	_, ok := profile.NetworkAnalysis.LatencyMatrix.Get("node1", "node2")
	assert.True(t, ok)
	assert.Equal(t, 2, profile.AggregatedMetrics.SuccessfulNodes)
}

func TestAgentReportsTraceCommunications(t *testing.T) {
	_, url := testutil.StartServer(t)
	startAgent(t, url, "node1")

	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())
	m := transport.NewManager(dialer, "trace-session", transport.DefaultConfig(), zap.NewNop())
	defer m.CloseAll()

	conn, err := m.Connect(context.Background(), model.NodeConfig{ID: "node1", Endpoint: url})
	require.NoError(t, err)

	_, err = transport.Call[*protocol.DeployAgentAck](context.Background(), conn, &protocol.DeployAgent{
		Code:   `echo '{"timestamp":1,"source":"node1","target":"node2","bytes":64}' >> "$DPROF_TRACE_FILE"`,
		Config: protocol.CaptureConfig{EnableTracing: true},
	}, 0)
	require.NoError(t, err)

	result, err := transport.Call[*protocol.ProfilingResult](context.Background(), conn,
		&protocol.StartProfiling{CodeID: "trace", Options: protocol.ProfilingOptions{Duration: 5000}}, 10*time.Second)
	require.NoError(t, err)

	require.Len(t, result.Profile.Communications, 1)
	assert.Equal(t, "node2", result.Profile.Communications[0].Target)
	assert.Equal(t, int64(64), result.Profile.Communications[0].Bytes)
}

func TestAgentRejectsProfilingWithoutDeployment(t *testing.T) {
	_, url := testutil.StartServer(t)
	startAgent(t, url, "node1")

	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())
	m := transport.NewManager(dialer, "undeployed", transport.DefaultConfig(), zap.NewNop())
	defer m.CloseAll()

	conn, err := m.Connect(context.Background(), model.NodeConfig{ID: "node1", Endpoint: url})
	require.NoError(t, err)

	_, err = transport.Call[*protocol.ProfilingResult](context.Background(), conn,
		&protocol.StartProfiling{CodeID: "x", Code: "true"}, 0)
	var agentErr *transport.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.True(t, strings.Contains(agentErr.Message, "no code deployed"))
}

func TestAgentRejectsImageWithoutDocker(t *testing.T) {
	_, url := testutil.StartServer(t)
	startAgent(t, url, "node1")

	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())
	m := transport.NewManager(dialer, "docker-less", transport.DefaultConfig(), zap.NewNop())
	defer m.CloseAll()

	conn, err := m.Connect(context.Background(), model.NodeConfig{ID: "node1", Endpoint: url})
	require.NoError(t, err)

	_, err = transport.Call[*protocol.DeployAgentAck](context.Background(), conn, &protocol.DeployAgent{
		Code:    "true",
		Context: protocol.ExecutionContext{Image: "alpine:3"},
	}, 0)
	var agentErr *transport.AgentError
	require.ErrorAs(t, err, &agentErr)
}

func TestAgentTracksSessions(t *testing.T) {
	_, url := testutil.StartServer(t)
	a := startAgent(t, url, "node1")

	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())
	m := transport.NewManager(dialer, "session-a", transport.DefaultConfig(), zap.NewNop())
	conn, err := m.Connect(context.Background(), model.NodeConfig{ID: "node1", Endpoint: url})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Sessions())

	_, err = transport.Call[*protocol.StopProfilingAck](context.Background(), conn, &protocol.StopProfiling{}, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
	m.CloseAll()
}

func TestAgentAcknowledgesStop(t *testing.T) {
	_, url := testutil.StartServer(t)
	startAgent(t, url, "node1")

	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())
	m := transport.NewManager(dialer, "session-stop", transport.DefaultConfig(), zap.NewNop())
	defer m.CloseAll()

	conn, err := m.Connect(context.Background(), model.NodeConfig{ID: "node1", Endpoint: url})
	require.NoError(t, err)

	started := time.Now()
	_, err = transport.Call[*protocol.StopProfilingAck](context.Background(), conn, &protocol.StopProfiling{}, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
}
