package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/agent"
)

func newAgentCmd(a *app) *cobra.Command {
	var (
		nodeID   string
		embedded bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a node-side profiling agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Agent
			if nodeID != "" {
				cfg.NodeID = nodeID
			}
			if cfg.NodeID == "" {
				return fmt.Errorf("a node id is required (--node-id or agent.node_id)")
			}
			if embedded {
				a.cfg.NATS.Embedded = true
			}

			ctx, cancel := a.signalContext()
			defer cancel()

			srv, err := a.startBroker()
			if err != nil {
				return err
			}
			if srv != nil {
				defer srv.Shutdown()
			}

			nc, err := a.connect(ctx, a.cfg.App.Name+"-agent-"+cfg.NodeID)
			if err != nil {
				return err
			}
			defer nc.Close()

			ag := agent.NewAgent(cfg, nc, a.logger)
			if cfg.EnableDocker {
				docker, err := dockerRunner(ctx, a.logger)
				if err != nil {
					a.logger.Warn("Docker runner unavailable", zap.Error(err))
				} else {
					defer docker.Close()
					ag.WithDocker(docker)
				}
			}

			if err := ag.Start(ctx); err != nil {
				return err
			}
			defer ag.Stop()

			a.logger.Info("Agent ready",
				zap.String("node_id", cfg.NodeID),
				zap.String("url", nc.ConnectedUrl()))

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node-id", "", "node id this agent answers for")
	cmd.Flags().BoolVar(&embedded, "embedded", false, "start an in-process NATS server")
	return cmd
}

func dockerRunner(ctx context.Context, logger *zap.Logger) (*agent.DockerRunner, error) {
	r, err := agent.NewDockerRunner(logger)
	if err != nil {
		return nil, err
	}
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}
