package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/distributed-profiler/internal/clocksync"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// Options control one profiling phase
type Options struct {
	Parallel                  bool
	MaxConcurrency            int
	Duration                  time.Duration
	IncludeNetworkAnalysis    bool
	IncludeResourceContention bool
}

// Request is the code to execute on every node
type Request struct {
	CodeID  string
	Code    string
	Context protocol.ExecutionContext
	Options Options
}

// Result is the outcome of profiling one node
type Result struct {
	NodeID                  string
	Profile                 model.AgentProfile
	StartTime               float64
	EndTime                 float64
	SynchronizationOverhead float64
	Status                  model.NodeStatus
	Err                     error
}

// SynchronizationOverhead is wall-clock time the agent's own instrumentation
// could not see. Negative differences clamp to zero.
func SynchronizationOverhead(start, end, agentTime float64) float64 {
	overhead := (end - start) - agentTime
	if overhead < 0 {
		return 0
	}
	return overhead
}

// Executor triggers profiling on node agents
type Executor struct {
	logger *zap.Logger
	now    func() float64
}

// NewExecutor creates a new profiling executor
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{
		logger: logger.Named("profiling-executor"),
		now:    clocksync.NowMillis,
	}
}

// ProfileNode runs the code on one node. Errors are captured in the result.
func (e *Executor) ProfileNode(ctx context.Context, conn *transport.Connection, req Request) Result {
	nodeID := conn.Node().ID
	start := e.now()

	resp, err := transport.Call[*protocol.ProfilingResult](ctx, conn, &protocol.StartProfiling{
		CodeID:  req.CodeID,
		Code:    req.Code,
		Context: req.Context,
		Options: protocol.ProfilingOptions{
			Duration:                  req.Options.Duration.Milliseconds(),
			IncludeNetworkAnalysis:    req.Options.IncludeNetworkAnalysis,
			IncludeResourceContention: req.Options.IncludeResourceContention,
		},
	}, req.Options.Duration)
	end := e.now()

	if err != nil {
		e.logger.Warn("Node profiling failed",
			zap.String("node_id", nodeID),
			zap.Error(err))
		return Result{
			NodeID:    nodeID,
			StartTime: start,
			EndTime:   end,
			Status:    transport.StatusOf(err),
			Err:       err,
		}
	}

	overhead := SynchronizationOverhead(start, end, resp.Profile.ExecutionProfile.TotalTime)
	e.logger.Info("Node profiled",
		zap.String("node_id", nodeID),
		zap.Float64("execution_ms", resp.Profile.ExecutionProfile.TotalTime),
		zap.Float64("sync_overhead_ms", overhead))

	return Result{
		NodeID:                  nodeID,
		Profile:                 resp.Profile,
		StartTime:               start,
		EndTime:                 end,
		SynchronizationOverhead: overhead,
		Status:                  model.NodeStatusSuccess,
	}
}

// ProfileAll profiles every connection and returns results in connection order.
// In parallel mode all nodes run concurrently and the call waits for all of them
// to settle; otherwise each node is awaited before the next starts.
func (e *Executor) ProfileAll(ctx context.Context, conns []*transport.Connection, req Request) []Result {
	results := make([]Result, len(conns))

	if !req.Options.Parallel {
		for i, conn := range conns {
			results[i] = e.ProfileNode(ctx, conn, req)
		}
		return results
	}

	g := new(errgroup.Group)
	if req.Options.MaxConcurrency > 0 {
		g.SetLimit(req.Options.MaxConcurrency)
	}
	for i, conn := range conns {
		i, conn := i, conn
		g.Go(func() error {
			results[i] = e.ProfileNode(ctx, conn, req)
			return nil
		})
	}
	g.Wait()

	return results
}
