package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/agent"
	"github.com/t77yq/distributed-profiler/internal/protocol"
)

func newShellRunner() *agent.ShellRunner {
	cfg := agent.DefaultMonitorConfig()
	cfg.SampleInterval = 10 * time.Millisecond
	return agent.NewShellRunner("", agent.NewResourceMonitor(cfg, zap.NewNop()), zap.NewNop())
}

func TestShellRunnerCapturesOutput(t *testing.T) {
	result, err := newShellRunner().Run(context.Background(), agent.Job{
		Code: `echo "$GREETING $1"; echo oops >&2`,
		Context: protocol.ExecutionContext{
			Env:  map[string]string{"GREETING": "hello"},
			Args: []string{"world"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, result.Output, "hello world")
	assert.Contains(t, result.Output, "oops")
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.End.Before(result.Start))
}

func TestShellRunnerNonZeroExit(t *testing.T) {
	result, err := newShellRunner().Run(context.Background(), agent.Job{Code: "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestShellRunnerTimeout(t *testing.T) {
	_, err := newShellRunner().Run(context.Background(), agent.Job{
		Code:    "sleep 5",
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestShellRunnerWorkingDir(t *testing.T) {
	dir := t.TempDir()
	result, err := newShellRunner().Run(context.Background(), agent.Job{
		Code:    "pwd",
		Context: protocol.ExecutionContext{WorkingDir: dir},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, dir)
}

func TestResourceMonitorContentionInRange(t *testing.T) {
	cfg := agent.DefaultMonitorConfig()
	cfg.SampleInterval = 20 * time.Millisecond

	c := agent.NewResourceMonitor(cfg, zap.NewNop()).Contention(context.Background())
	for _, v := range []float64{c.CPUContention, c.MemoryPressure, c.IOWait, c.NetworkSaturation} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.GreaterOrEqual(t, c.LoadAverage, 0.0)
}
