package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/distributed-profiler/internal/bottleneck"
	"github.com/t77yq/distributed-profiler/internal/clocksync"
	"github.com/t77yq/distributed-profiler/internal/deploy"
	"github.com/t77yq/distributed-profiler/internal/distribution"
	"github.com/t77yq/distributed-profiler/internal/executor"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/network"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/report"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// Options control how a run is executed
type Options struct {
	Sequential                bool                   `mapstructure:"sequential"`
	MaxConcurrency            int                    `mapstructure:"max_concurrency"`
	Duration                  time.Duration          `mapstructure:"duration"`
	IncludeNetworkAnalysis    bool                   `mapstructure:"include_network_analysis"`
	IncludeResourceContention bool                   `mapstructure:"include_resource_contention"`
	Capture                   protocol.CaptureConfig `mapstructure:"capture"`
}

// Request describes one profiling run
type Request struct {
	CodeID  string
	Code    string
	Context protocol.ExecutionContext
	Nodes   []model.NodeConfig
	Options Options
}

// Coordinator runs distributed profiling sessions. It holds no per-run state,
// so independent runs may execute concurrently.
type Coordinator struct {
	dialer transport.Dialer
	config Config
	logger *zap.Logger

	clock        *clocksync.Synchronizer
	deployer     *deploy.Deployer
	executor     *executor.Executor
	network      *network.Analyzer
	distribution *distribution.Analyzer
	aggregator   *bottleneck.Aggregator
}

// NewCoordinator creates a new coordinator dialing nodes through dialer
func NewCoordinator(dialer transport.Dialer, config Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		dialer:       dialer,
		config:       config,
		logger:       logger.Named("coordinator"),
		clock:        clocksync.NewSynchronizer(config.ClockSync, logger),
		deployer:     deploy.NewDeployer(config.RPC.Timeout, logger),
		executor:     executor.NewExecutor(logger),
		network:      network.NewAnalyzer(config.Network, logger),
		distribution: distribution.NewAnalyzer(config.Distribution, logger),
		aggregator:   bottleneck.NewAggregator(config.Bottleneck, logger),
	}
}

// Profile executes the code on every node and returns the distributed profile.
// Per-node failures degrade into node statuses; only a run with no reachable
// or no surviving node fails as a whole.
func (c *Coordinator) Profile(ctx context.Context, req Request) (*model.DistributedProfile, error) {
	if len(req.Nodes) == 0 {
		return nil, ErrNoNodes
	}

	sessionID := uuid.NewString()
	manager := transport.NewManager(c.dialer, sessionID, c.config.RPC, c.logger)
	session := newSession(sessionID, req.Nodes, manager, c.logger)
	defer session.Cleanup(c.config.RPC.Timeout)

	started := time.Now()
	c.logger.Info("Starting profiling run",
		zap.String("session_id", sessionID),
		zap.String("code_id", req.CodeID),
		zap.Int("nodes", len(req.Nodes)))

	c.connect(ctx, session, req.Options)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(session.active()) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoReachableNodes, session.errs())
	}

	c.synchronize(ctx, session, req.Options)
	c.deploy(ctx, session, req)
	c.profile(ctx, session, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(session.active()) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllNodesFailed, session.errs())
	}

	var matrix model.LatencyMatrix
	if req.Options.IncludeNetworkAnalysis || req.Options.IncludeResourceContention {
		matrix = c.measure(ctx, session, req.Options)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	for _, conn := range session.active() {
		session.advance(conn.Node().ID, model.NodeStageCompleted)
	}

	profile := c.assemble(session, req, matrix)
	c.logger.Info("Profiling run completed",
		zap.String("session_id", sessionID),
		zap.String("profile_id", profile.ID),
		zap.Int("successful_nodes", profile.AggregatedMetrics.SuccessfulNodes),
		zap.Int("failed_nodes", profile.AggregatedMetrics.FailedNodes),
		zap.Int("score", profile.OverallScore),
		zap.Duration("elapsed", time.Since(started)))

	return profile, nil
}

// fanOut runs fn for every connection, concurrently unless sequential
func fanOut(conns []*transport.Connection, sequential bool, limit int, fn func(conn *transport.Connection)) {
	if sequential {
		for _, conn := range conns {
			fn(conn)
		}
		return
	}

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			fn(conn)
			return nil
		})
	}
	g.Wait()
}

func (c *Coordinator) connect(ctx context.Context, s *ProfilingSession, opts Options) {
	configs := s.nodeConfigs()
	connectOne := func(node model.NodeConfig) {
		conn, err := s.manager.Connect(ctx, node)
		if err != nil {
			s.fail(node.ID, err)
			return
		}
		s.update(node.ID, func(n *nodeState) { n.conn = conn })
		s.advance(node.ID, model.NodeStageClockSyncing)
	}

	if opts.Sequential {
		for _, node := range configs {
			connectOne(node)
		}
		return
	}

	g := new(errgroup.Group)
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}
	for _, node := range configs {
		node := node
		g.Go(func() error {
			connectOne(node)
			return nil
		})
	}
	g.Wait()
}

func (c *Coordinator) synchronize(ctx context.Context, s *ProfilingSession, opts Options) {
	fanOut(s.active(), opts.Sequential, opts.MaxConcurrency, func(conn *transport.Connection) {
		id := conn.Node().ID
		offset, err := c.clock.Measure(ctx, conn)
		if err != nil {
			s.fail(id, fmt.Errorf("clock sync failed: %w", err))
			return
		}
		s.update(id, func(n *nodeState) { n.offset = offset })
		s.record(id, model.TraceEventSync, model.TraceData{Offset: offset})
	})

	offsets := s.offsets()
	fanOut(s.active(), opts.Sequential, opts.MaxConcurrency, func(conn *transport.Connection) {
		id := conn.Node().ID
		if err := c.clock.SendOffsets(ctx, conn, offsets); err != nil {
			s.record(id, model.TraceEventSync, model.TraceData{Message: "offset broadcast failed: " + err.Error()})
		}
		s.advance(id, model.NodeStageDeploying)
	})
}

func (c *Coordinator) deploy(ctx context.Context, s *ProfilingSession, req Request) {
	bundle := deploy.Bundle{
		Code:    req.Code,
		Context: req.Context,
		Capture: req.Options.Capture,
	}

	fanOut(s.active(), req.Options.Sequential, req.Options.MaxConcurrency, func(conn *transport.Connection) {
		id := conn.Node().ID
		if err := c.deployer.Deploy(ctx, conn, bundle); err != nil {
			s.fail(id, fmt.Errorf("deployment failed: %w", err))
			return
		}
		s.advance(id, model.NodeStageProfiling)
	})
}

func (c *Coordinator) profile(ctx context.Context, s *ProfilingSession, req Request) {
	duration := req.Options.Duration
	if duration <= 0 {
		duration = c.config.RPC.ProfilingTimeout
	}

	results := c.executor.ProfileAll(ctx, s.active(), executor.Request{
		CodeID:  req.CodeID,
		Code:    req.Code,
		Context: req.Context,
		Options: executor.Options{
			Parallel:                  !req.Options.Sequential,
			MaxConcurrency:            req.Options.MaxConcurrency,
			Duration:                  duration,
			IncludeNetworkAnalysis:    req.Options.IncludeNetworkAnalysis,
			IncludeResourceContention: req.Options.IncludeResourceContention,
		},
	})

	for i := range results {
		r := results[i]
		if r.Err != nil {
			s.fail(r.NodeID, fmt.Errorf("profiling failed: %w", r.Err))
			continue
		}
		s.update(r.NodeID, func(n *nodeState) { n.result = &r })
		s.trace(r)
		s.advance(r.NodeID, model.NodeStageMeasuringNetwork)
	}
}

// measure collects per-node network metrics and contention, then the inter-node
// latency matrix. Failures here are logged and never demote a profiled node.
func (c *Coordinator) measure(ctx context.Context, s *ProfilingSession, opts Options) model.LatencyMatrix {
	conns := s.active()

	fanOut(conns, c.config.Network.Sequential, opts.MaxConcurrency, func(conn *transport.Connection) {
		id := conn.Node().ID
		if opts.IncludeNetworkAnalysis {
			metrics, err := c.network.MeasureNode(ctx, conn)
			if err != nil {
				c.measureFailed(s, id, "network measurement", err)
			}
			s.update(id, func(n *nodeState) { n.metrics = metrics })
		}
		if opts.IncludeResourceContention {
			contention, err := c.network.MeasureContention(ctx, conn)
			if err != nil {
				c.measureFailed(s, id, "contention measurement", err)
				return
			}
			s.update(id, func(n *nodeState) { n.contention = contention })
			s.record(id, model.TraceEventResource, model.TraceData{})
		}
	})

	if !opts.IncludeNetworkAnalysis {
		return nil
	}
	return c.network.LatencyMatrix(ctx, conns)
}

func (c *Coordinator) measureFailed(s *ProfilingSession, nodeID, what string, err error) {
	c.logger.Warn("Measurement failed",
		zap.String("node_id", nodeID),
		zap.String("measurement", what),
		zap.Error(err))
	s.record(nodeID, model.TraceEventSync, model.TraceData{Message: what + " failed: " + err.Error()})
}

// assemble builds the node profiles in request order and runs every analysis
func (c *Coordinator) assemble(s *ProfilingSession, req Request, matrix model.LatencyMatrix) *model.DistributedProfile {
	nodes := s.nodeProfiles()

	profile := &model.DistributedProfile{
		ID:                uuid.NewString(),
		CodeID:            req.CodeID,
		Timestamp:         time.Now().UTC(),
		Nodes:             nodes,
		AggregatedMetrics: distribution.Aggregate(nodes),
	}
	profile.DistributionAnalysis = c.distribution.Analyze(nodes)
	if req.Options.IncludeNetworkAnalysis {
		profile.NetworkAnalysis = c.network.Analyze(matrix, s.Events())
	}

	in := bottleneck.Input{
		Nodes:        nodes,
		Network:      profile.NetworkAnalysis,
		Distribution: profile.DistributionAnalysis,
		Metrics:      profile.AggregatedMetrics,
	}
	profile.Bottlenecks = c.aggregator.Aggregate(in)
	profile.Recommendations = c.aggregator.Recommend(profile.Bottlenecks, in)
	profile.OverallScore = report.Score(profile, c.config.Scoring)

	return profile
}
