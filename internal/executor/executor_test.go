package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/executor"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/testutil"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

func connectAll(t *testing.T, agents ...*testutil.FakeAgent) []*transport.Connection {
	t.Helper()

	dialer := testutil.NewPipeDialer()
	for _, a := range agents {
		dialer.Handle(a.NodeID, a.Handle)
	}
	m := transport.NewManager(dialer, "exec-session", transport.DefaultConfig(), zap.NewNop())
	t.Cleanup(m.CloseAll)

	conns := make([]*transport.Connection, 0, len(agents))
	for _, a := range agents {
		conn, err := m.Connect(context.Background(), model.NodeConfig{ID: a.NodeID})
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	return conns
}

func TestSynchronizationOverhead(t *testing.T) {
	assert.Equal(t, 25.0, executor.SynchronizationOverhead(1000, 1125, 100))
	assert.Equal(t, 0.0, executor.SynchronizationOverhead(1000, 1050, 100))
}

func TestProfileAllKeepsOrderAndCapturesFailures(t *testing.T) {
	ok1 := testutil.NewFakeAgent("node1", 120)
	bad := testutil.NewFakeAgent("node2", 0)
	bad.ProfileErr = errors.New("segfault")
	slow := testutil.NewFakeAgent("node3", 80)
	slow.SilentOn[protocol.TypeStartProfiling] = true

	conns := connectAll(t, ok1, bad, slow)
	e := executor.NewExecutor(zap.NewNop())

	for _, parallel := range []bool{true, false} {
		results := e.ProfileAll(context.Background(), conns, executor.Request{
			CodeID: "c1",
			Code:   "run",
			Options: executor.Options{
				Parallel: parallel,
				Duration: 50 * time.Millisecond,
			},
		})

		require.Len(t, results, 3)
		assert.Equal(t, "node1", results[0].NodeID)
		assert.Equal(t, model.NodeStatusSuccess, results[0].Status)
		assert.Equal(t, 120.0, results[0].Profile.ExecutionProfile.TotalTime)
		assert.GreaterOrEqual(t, results[0].SynchronizationOverhead, 0.0)

		assert.Equal(t, "node2", results[1].NodeID)
		assert.Equal(t, model.NodeStatusFailed, results[1].Status)
		assert.Contains(t, results[1].Err.Error(), "segfault")

		assert.Equal(t, "node3", results[2].NodeID)
		assert.Equal(t, model.NodeStatusTimeout, results[2].Status)
	}
}

func TestParallelRunsConcurrently(t *testing.T) {
	a := testutil.NewFakeAgent("node1", 10)
	a.ProfileDelay = 100 * time.Millisecond
	b := testutil.NewFakeAgent("node2", 10)
	b.ProfileDelay = 100 * time.Millisecond
	conns := connectAll(t, a, b)

	e := executor.NewExecutor(zap.NewNop())
	start := time.Now()
	results := e.ProfileAll(context.Background(), conns, executor.Request{
		Options: executor.Options{Parallel: true, Duration: time.Second},
	})
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Less(t, elapsed, 190*time.Millisecond)
	for _, r := range results {
		assert.Equal(t, model.NodeStatusSuccess, r.Status)
		// The agent took ~100ms but reported 10ms
		assert.Greater(t, r.SynchronizationOverhead, 50.0)
	}
}
