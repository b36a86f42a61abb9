package coordinator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/testutil"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

func testSession(ids ...string) *ProfilingSession {
	nodes := make([]model.NodeConfig, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, model.NodeConfig{ID: id})
	}
	manager := transport.NewManager(testutil.NewPipeDialer(), "session-stages", transport.DefaultConfig(), zap.NewNop())
	return newSession("session-stages", nodes, manager, zap.NewNop())
}

func TestSessionStageTransitions(t *testing.T) {
	s := testSession("node1", "node2", "node3")
	assert.Equal(t, model.NodeStageConnecting, s.Stage("node1"))

	s.advance("node1", model.NodeStageClockSyncing)
	s.advance("node1", model.NodeStageCompleted)
	s.fail("node2", errors.New("exit status 1"))
	s.fail("node3", &transport.TimeoutError{NodeID: "node3", Type: protocol.TypeClockSyncRequest})

	assert.Equal(t, map[string]model.NodeStage{
		"node1": model.NodeStageCompleted,
		"node2": model.NodeStageFailed,
		"node3": model.NodeStageTimeout,
	}, s.Stages())
	assert.Equal(t, model.NodeStage(""), s.Stage("node4"))
}

func TestSessionTerminalStagesAreFinal(t *testing.T) {
	s := testSession("node1", "node2")

	s.fail("node1", errors.New("refused"))
	s.advance("node1", model.NodeStageProfiling)
	s.advance("node2", model.NodeStageCompleted)
	s.fail("node2", errors.New("late failure"))

	assert.Equal(t, model.NodeStageFailed, s.Stage("node1"))
	assert.Equal(t, model.NodeStageCompleted, s.Stage("node2"))

	profiles := s.nodeProfiles()
	assert.Equal(t, model.NodeStageFailed, profiles[0].Stage)
	assert.Equal(t, "refused", profiles[0].Error)
	assert.Equal(t, model.NodeStageCompleted, profiles[1].Stage)
}
