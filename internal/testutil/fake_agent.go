package testutil

import (
	"errors"
	"sync"
	"time"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
)

// FakeAgent is a scriptable in-memory profiling agent for pipe-based tests
type FakeAgent struct {
	NodeID string

	// ClockOffset is how far the agent's clock runs ahead of the coordinator, in ms
	ClockOffset float64
	Profile     model.AgentProfile
	Contention  model.ResourceContention
	Latencies   map[string]float64

	DeployErr    error
	ProfileErr   error
	SilentOn     map[protocol.MessageType]bool
	ProfileDelay time.Duration

	mu       sync.Mutex
	received map[protocol.MessageType]int
	offsets  map[string]float64
}

// NewFakeAgent creates a fake agent that reports the given execution time
func NewFakeAgent(nodeID string, totalTime float64) *FakeAgent {
	return &FakeAgent{
		NodeID: nodeID,
		Profile: model.AgentProfile{
			ExecutionProfile: model.ExecutionProfile{TotalTime: totalTime},
			ResourceUsage:    model.ResourceUsage{CPUPercent: 50, PeakMemoryBytes: 1 << 20},
		},
		Latencies: make(map[string]float64),
		SilentOn:  make(map[protocol.MessageType]bool),
		received:  make(map[protocol.MessageType]int),
	}
}

// Received returns how many messages of a type the agent handled
func (a *FakeAgent) Received(typ protocol.MessageType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received[typ]
}

// Offsets returns the last broadcast offset table
func (a *FakeAgent) Offsets() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offsets
}

func (a *FakeAgent) now() float64 {
	return float64(time.Now().UnixNano())/1e6 + a.ClockOffset
}

// Handle implements Handler
func (a *FakeAgent) Handle(env *protocol.Envelope) *protocol.Envelope {
	receivedAt := a.now()

	a.mu.Lock()
	a.received[env.Type]++
	silent := a.SilentOn[env.Type]
	a.mu.Unlock()
	if silent {
		return nil
	}

	msg, err := protocol.Decode(env)
	if err != nil {
		return protocol.ErrorReply(env.MessageID, env.SessionID, a.NodeID, env.Type, err)
	}

	var reply protocol.Message
	switch m := msg.(type) {
	case *protocol.Coordination:
		reply = &protocol.CoordinationAck{NodeID: a.NodeID, AgentVersion: "fake"}
	case *protocol.ClockSyncRequest:
		reply = &protocol.ClockSyncResponse{ServerReceiveTime: receivedAt, ServerSendTime: a.now()}
	case *protocol.ClockOffsets:
		a.mu.Lock()
		a.offsets = m.Offsets
		a.mu.Unlock()
		reply = &protocol.ClockOffsetsAck{}
	case *protocol.DeployAgent:
		if a.DeployErr != nil {
			return protocol.ErrorReply(env.MessageID, env.SessionID, a.NodeID, protocol.TypeDeployAgentAck, a.DeployErr)
		}
		reply = &protocol.DeployAgentAck{Deployed: true}
	case *protocol.StartProfiling:
		if a.ProfileDelay > 0 {
			time.Sleep(a.ProfileDelay)
		}
		if a.ProfileErr != nil {
			return protocol.ErrorReply(env.MessageID, env.SessionID, a.NodeID, protocol.TypeProfilingResult, a.ProfileErr)
		}
		reply = &protocol.ProfilingResult{Profile: a.Profile}
	case *protocol.StopProfiling:
		reply = &protocol.StopProfilingAck{}
	case *protocol.Ping:
		reply = &protocol.Pong{}
	case *protocol.BandwidthTest:
		if m.Direction == protocol.DirectionDownload {
			reply = &protocol.BandwidthResult{Payload: make([]byte, m.Size)}
		} else {
			reply = &protocol.BandwidthResult{Received: len(m.Payload)}
		}
	case *protocol.ResourceContention:
		reply = &protocol.ResourceContentionResult{Contention: a.Contention}
	case *protocol.MeasureLatencyTo:
		latency, ok := a.Latencies[m.TargetNode]
		if !ok {
			latency = 1
		}
		reply = &protocol.LatencyResult{Latency: latency}
	default:
		return protocol.ErrorReply(env.MessageID, env.SessionID, a.NodeID, env.Type, errors.New("unsupported message"))
	}

	out, err := protocol.Reply(env.MessageID, env.SessionID, a.NodeID, reply)
	if err != nil {
		return protocol.ErrorReply(env.MessageID, env.SessionID, a.NodeID, env.Type, err)
	}
	return out
}
