package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/broker"
	"github.com/t77yq/distributed-profiler/internal/config"
	"github.com/t77yq/distributed-profiler/internal/logging"
)

// app holds what every subcommand needs after the root pre-run
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "profiler",
		Short:         "Distributed performance profiler",
		Long:          "Profiles a piece of code across a set of worker nodes and reports where the distributed run loses time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.Log.Level = level
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./config/config.yaml or ./config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(a),
		newAgentCmd(a),
		newHistoryCmd(a),
		newReportCmd(a),
		newScheduleCmd(a),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM
func (a *app) signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			a.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// startBroker runs the embedded NATS server when configured and points the
// client URL at it
func (a *app) startBroker() (*server.Server, error) {
	if !a.cfg.NATS.Embedded {
		return nil, nil
	}

	s, err := broker.Start(broker.Options{Port: a.cfg.NATS.EmbeddedPort})
	if err != nil {
		return nil, err
	}
	a.cfg.NATS.URL = s.ClientURL()
	a.logger.Info("Embedded NATS server started", zap.String("url", a.cfg.NATS.URL))
	return s, nil
}

// connect opens the process-wide NATS connection, retrying with backoff
func (a *app) connect(ctx context.Context, name string) (*nats.Conn, error) {
	logger := a.logger
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(a.cfg.NATS.MaxReconnects),
		nats.ReconnectWait(a.cfg.NATS.ReconnectWait),
		nats.Timeout(a.cfg.NATS.Client.ConnectTimeout),
		nats.PingInterval(a.cfg.NATS.Client.PingInterval),
		nats.DrainTimeout(a.cfg.NATS.Client.DrainTimeout),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	backoff := a.cfg.RPC.Backoff
	attempts := max(a.cfg.RPC.ConnectAttempts, 1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		nc, err := nats.Connect(a.cfg.NATS.URL, opts...)
		if err == nil {
			logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff.NextRetry(i)):
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, lastErr)
}
