package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/clocksync"
	"github.com/t77yq/distributed-profiler/internal/executor"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// nodeState tracks one node across the stages of a run
type nodeState struct {
	config     model.NodeConfig
	stage      model.NodeStage
	conn       *transport.Connection
	offset     float64
	err        error
	metrics    model.NetworkMetrics
	contention model.ResourceContention
	result     *executor.Result
}

// ProfilingSession owns the mutable state of one run: its connections, trace
// log and node table. Nothing in it is shared with other sessions.
type ProfilingSession struct {
	ID string

	manager *transport.Manager
	logger  *zap.Logger
	now     func() float64

	mu     sync.Mutex
	order  []string
	nodes  map[string]*nodeState
	events []model.TraceEvent
	closed bool
}

func newSession(id string, nodes []model.NodeConfig, manager *transport.Manager, logger *zap.Logger) *ProfilingSession {
	s := &ProfilingSession{
		ID:      id,
		manager: manager,
		logger:  logger.With(zap.String("session_id", id)),
		now:     clocksync.NowMillis,
		nodes:   make(map[string]*nodeState, len(nodes)),
	}
	for _, n := range nodes {
		s.order = append(s.order, n.ID)
		s.nodes[n.ID] = &nodeState{config: n, stage: model.NodeStageConnecting}
	}
	return s
}

// Record appends an event to the trace log
func (s *ProfilingSession) Record(event model.TraceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *ProfilingSession) record(nodeID string, typ model.TraceEventType, data model.TraceData) {
	s.Record(model.TraceEvent{
		Timestamp: s.now(),
		NodeID:    nodeID,
		EventType: typ,
		Data:      data,
	})
}

// Events returns a copy of the trace log ordered by timestamp
func (s *ProfilingSession) Events() []model.TraceEvent {
	s.mu.Lock()
	events := append([]model.TraceEvent(nil), s.events...)
	s.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events
}

// Stage returns the current stage of a node
func (s *ProfilingSession) Stage(nodeID string) model.NodeStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		return n.stage
	}
	return ""
}

// Stages returns a snapshot of the node table's stages
func (s *ProfilingSession) Stages() map[string]model.NodeStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := make(map[string]model.NodeStage, len(s.nodes))
	for id, n := range s.nodes {
		stages[id] = n.stage
	}
	return stages
}

// advance moves an active node to the next stage. Terminal nodes stay put.
func (s *ProfilingSession) advance(nodeID string, stage model.NodeStage) {
	s.mu.Lock()
	n, ok := s.nodes[nodeID]
	if !ok || n.stage.Terminal() {
		s.mu.Unlock()
		return
	}
	n.stage = stage
	s.mu.Unlock()

	s.record(nodeID, model.TraceEventSync, model.TraceData{Stage: string(stage)})
}

// fail excludes a node from the remaining stages
func (s *ProfilingSession) fail(nodeID string, err error) {
	stage := model.NodeStageFailed
	if transport.StatusOf(err) == model.NodeStatusTimeout {
		stage = model.NodeStageTimeout
	}

	s.mu.Lock()
	n, ok := s.nodes[nodeID]
	if !ok || n.stage.Terminal() {
		s.mu.Unlock()
		return
	}
	from := n.stage
	n.stage = stage
	n.err = err
	s.mu.Unlock()

	s.logger.Warn("Node excluded from run",
		zap.String("node_id", nodeID),
		zap.String("stage", string(from)),
		zap.Error(err))
	s.record(nodeID, model.TraceEventSync, model.TraceData{Stage: string(stage), Message: err.Error()})
}

func (s *ProfilingSession) update(nodeID string, fn func(n *nodeState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		fn(n)
	}
}

// active returns the connections of nodes that have not failed, in request order
func (s *ProfilingSession) active() []*transport.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*transport.Connection, 0, len(s.order))
	for _, id := range s.order {
		n := s.nodes[id]
		if n.conn != nil && !n.stage.Terminal() {
			conns = append(conns, n.conn)
		}
	}
	return conns
}

func (s *ProfilingSession) nodeConfigs() []model.NodeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs := make([]model.NodeConfig, 0, len(s.order))
	for _, id := range s.order {
		configs = append(configs, s.nodes[id].config)
	}
	return configs
}

func (s *ProfilingSession) offsets() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	offsets := make(map[string]float64)
	for id, n := range s.nodes {
		if n.conn != nil && !n.stage.Terminal() {
			offsets[id] = n.offset
		}
	}
	return offsets
}

// Cleanup releases every remote deployment best effort and closes all
// connections. It is safe to call more than once.
func (s *ProfilingSession) Cleanup(timeout time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var conns []*transport.Connection
	for _, id := range s.order {
		if c := s.nodes[id].conn; c != nil {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *transport.Connection) {
			defer wg.Done()
			if _, err := transport.Call[*protocol.StopProfilingAck](ctx, conn, &protocol.StopProfiling{}, timeout); err != nil {
				s.logger.Debug("Stop profiling not acknowledged",
					zap.String("node_id", conn.Node().ID),
					zap.Error(err))
			}
		}(conn)
	}
	wg.Wait()

	s.manager.CloseAll()

	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
	s.logger.Debug("Session cleaned up", zap.Int("connections", len(conns)))
}

// trace appends the execution window and the agent's communications to the
// trace log, shifting node timestamps onto the coordinator clock.
func (s *ProfilingSession) trace(r executor.Result) {
	var offset float64
	s.update(r.NodeID, func(n *nodeState) { offset = n.offset })

	duration := r.EndTime - r.StartTime
	s.Record(model.TraceEvent{Timestamp: r.StartTime, NodeID: r.NodeID, EventType: model.TraceEventStart})
	s.Record(model.TraceEvent{Timestamp: r.EndTime, NodeID: r.NodeID, EventType: model.TraceEventEnd, Duration: &duration})

	for _, comm := range r.Profile.Communications {
		s.Record(model.TraceEvent{
			Timestamp: comm.Timestamp - offset,
			NodeID:    r.NodeID,
			EventType: model.TraceEventCommunication,
			Data: model.TraceData{
				Source:        comm.Source,
				Target:        comm.Target,
				Operation:     comm.Operation,
				CorrelationID: comm.CorrelationID,
				Bytes:         comm.Bytes,
			},
		})
	}
}

// nodeProfiles returns one profile per requested node. Nodes that did not
// finish profiling carry zeroed metrics and their failure.
func (s *ProfilingSession) nodeProfiles() []model.NodeProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := make([]model.NodeProfile, 0, len(s.order))
	for _, id := range s.order {
		n := s.nodes[id]
		p := model.NodeProfile{NodeID: id, Stage: n.stage}

		switch {
		case n.result != nil && n.err == nil:
			p.Status = model.NodeStatusSuccess
			p.Profile = n.result.Profile
			p.SynchronizationOverhead = n.result.SynchronizationOverhead
			p.NetworkMetrics = n.metrics
			p.ResourceContention = n.contention
		default:
			p.Status = transport.StatusOf(n.err)
			if p.Status == model.NodeStatusSuccess {
				p.Status = model.NodeStatusFailed
			}
			if n.err != nil {
				p.Error = n.err.Error()
			}
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// errs joins the failures of every excluded node
func (s *ProfilingSession) errs() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []error
	for _, id := range s.order {
		if err := s.nodes[id].err; err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}
