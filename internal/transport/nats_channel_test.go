package transport_test

import (
	"context"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/testutil"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// serveNode answers the node subject with a fake agent, replying to the
// callback announced in each session's handshake.
func serveNode(t *testing.T, nc *nats.Conn, prefix string, agent *testutil.FakeAgent) {
	t.Helper()

	var callbacks sync.Map
	_, err := nc.Subscribe(transport.NodeSubject(prefix, agent.NodeID), func(msg *nats.Msg) {
		env, err := protocol.Unmarshal(msg.Data)
		if err != nil {
			return
		}
		if env.Type == protocol.TypeCoordination {
			decoded, err := protocol.Decode(env)
			if err != nil {
				return
			}
			callbacks.Store(env.SessionID, decoded.(*protocol.Coordination).CallbackAddress)
		}

		reply := agent.Handle(env)
		callback, ok := callbacks.Load(env.SessionID)
		if reply == nil || !ok {
			return
		}
		data, err := protocol.Marshal(reply)
		if err != nil {
			return
		}
		nc.Publish(callback.(string), data)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
}

func TestNATSChannelRoundTrip(t *testing.T) {
	_, url := testutil.StartServer(t)
	nc := testutil.Connect(t, url)

	natsCfg := transport.DefaultNATSConfig()
	agent := testutil.NewFakeAgent("node1", 250)
	serveNode(t, nc, natsCfg.SubjectPrefix, agent)

	dialer := transport.NewNATSDialer(natsCfg, zap.NewNop())
	m := transport.NewManager(dialer, "nats-session", testConfig(), zap.NewNop())
	defer m.CloseAll()

	conn, err := m.Connect(context.Background(), model.NodeConfig{ID: "node1", Endpoint: url})
	require.NoError(t, err)

	result, err := transport.Call[*protocol.ProfilingResult](context.Background(), conn,
		&protocol.StartProfiling{CodeID: "c1", Code: "true"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 250.0, result.Profile.ExecutionProfile.TotalTime)
	assert.Equal(t, 0, conn.Pending())
}

func TestNATSUnreachableEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectAttempts = 1

	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())
	m := transport.NewManager(dialer, "nats-session", cfg, zap.NewNop())

	_, err := m.Connect(context.Background(), model.NodeConfig{ID: "node1", Endpoint: "nats://127.0.0.1:1"})
	var connErr *transport.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestNATSDialWithoutDeadline(t *testing.T) {
	_, url := testutil.StartServer(t)

	natsCfg := transport.DefaultNATSConfig()
	dialer := transport.NewNATSDialer(natsCfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := dialer.Dial(ctx, model.NodeConfig{ID: "node1", Endpoint: url}, "s1")
	require.NoError(t, err)
	defer ch.Close()
	assert.Equal(t, transport.CallbackSubject(natsCfg.SubjectPrefix, "s1", "node1"), ch.CallbackAddress())
}

func TestNATSDialCancelled(t *testing.T) {
	_, url := testutil.StartServer(t)
	dialer := transport.NewNATSDialer(transport.DefaultNATSConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dialer.Dial(ctx, model.NodeConfig{ID: "node1", Endpoint: url}, "s1")
	assert.ErrorIs(t, err, context.Canceled)
}
