package deploy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// Bundle is what gets shipped to every node's agent
type Bundle struct {
	Code    string
	Context protocol.ExecutionContext
	Capture protocol.CaptureConfig
}

// Deployer ships code and capture configuration to node agents
type Deployer struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewDeployer creates a new agent deployer
func NewDeployer(timeout time.Duration, logger *zap.Logger) *Deployer {
	return &Deployer{
		timeout: timeout,
		logger:  logger.Named("agent-deployer"),
	}
}

// Deploy pushes the bundle to one node
func (d *Deployer) Deploy(ctx context.Context, conn *transport.Connection, bundle Bundle) error {
	ack, err := transport.Call[*protocol.DeployAgentAck](ctx, conn, &protocol.DeployAgent{
		Code:    bundle.Code,
		Context: bundle.Context,
		Config:  bundle.Capture,
	}, d.timeout)
	if err == nil && !ack.Deployed {
		err = &transport.AgentError{
			NodeID:  conn.Node().ID,
			Type:    protocol.TypeDeployAgent,
			Message: "agent declined deployment",
		}
	}
	if err != nil {
		d.logger.Warn("Agent deployment failed",
			zap.String("node_id", conn.Node().ID),
			zap.Error(err))
		return err
	}

	d.logger.Info("Agent deployed", zap.String("node_id", conn.Node().ID))
	return nil
}
