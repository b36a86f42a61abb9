package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/coordinator"
	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/monitor"
	"github.com/t77yq/distributed-profiler/internal/protocol"
	"github.com/t77yq/distributed-profiler/internal/report"
	"github.com/t77yq/distributed-profiler/internal/service"
	"github.com/t77yq/distributed-profiler/internal/storage"
	"github.com/t77yq/distributed-profiler/internal/transport"
)

// runFlags are shared by run and schedule
type runFlags struct {
	codeID     string
	code       string
	image      string
	workDir    string
	nodes      []string
	sequential bool
	noNetwork  bool
	output     string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.codeID, "code-id", "", "identifier recorded with the profile (default: file name)")
	cmd.Flags().StringVarP(&f.code, "exec", "e", "", "inline code to profile instead of a file")
	cmd.Flags().StringVar(&f.image, "image", "", "run the code inside this container image on each node")
	cmd.Flags().StringVar(&f.workDir, "workdir", "", "working directory on each node")
	cmd.Flags().StringArrayVarP(&f.nodes, "node", "n", nil, "node as id or id=nats-url; repeatable, overrides configured nodes")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "run phases one node at a time")
	cmd.Flags().BoolVar(&f.noNetwork, "no-network", false, "skip network measurement and analysis")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the report to this file instead of stdout")
}

// request builds the run request from flags, the optional code file and config
func (f *runFlags) request(a *app, args []string) (coordinator.Request, error) {
	code := f.code
	codeID := f.codeID
	if code == "" {
		if len(args) == 0 {
			return coordinator.Request{}, fmt.Errorf("a code file or --exec is required")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return coordinator.Request{}, fmt.Errorf("failed to read code file: %w", err)
		}
		code = string(data)
		if codeID == "" {
			codeID = args[0]
		}
	}
	if codeID == "" {
		codeID = "inline"
	}

	nodes := a.cfg.Nodes
	if len(f.nodes) > 0 {
		nodes = nil
		for _, spec := range f.nodes {
			id, endpoint, _ := strings.Cut(spec, "=")
			nodes = append(nodes, model.NodeConfig{ID: id, Endpoint: endpoint})
		}
	}
	resolved := make([]model.NodeConfig, len(nodes))
	for i, n := range nodes {
		if n.Endpoint == "" {
			n.Endpoint = a.cfg.NATS.URL
		}
		resolved[i] = n
	}

	opts := a.cfg.Run
	if f.sequential {
		opts.Sequential = true
	}
	if f.noNetwork {
		opts.IncludeNetworkAnalysis = false
	}

	return coordinator.Request{
		CodeID: codeID,
		Code:   code,
		Context: protocol.ExecutionContext{
			Image:      f.image,
			WorkingDir: f.workDir,
		},
		Nodes:   resolved,
		Options: opts,
	}, nil
}

// prepare starts the embedded broker before building the request, so nodes
// without an endpoint resolve to the broker's actual URL
func (a *app) prepare(f *runFlags, args []string) (coordinator.Request, *server.Server, error) {
	srv, err := a.startBroker()
	if err != nil {
		return coordinator.Request{}, nil, err
	}

	req, err := f.request(a, args)
	if err != nil {
		if srv != nil {
			srv.Shutdown()
		}
		return coordinator.Request{}, nil, err
	}
	return req, srv, nil
}

// stack is the coordinator side wired from config
type stack struct {
	service *service.ProfileService
	history *storage.SQLiteProfileHistory
	nc      *nats.Conn
}

func (s *stack) Close() {
	if s.history != nil {
		s.history.Close()
	}
	if s.nc != nil {
		s.nc.Drain()
	}
}

func (a *app) buildStack(ctx context.Context) (*stack, error) {
	st := &stack{}

	// Alerts and summaries are announced on the broker when one is reachable.
	nc, err := a.connect(ctx, a.cfg.App.Name+"-coordinator")
	if err != nil {
		a.logger.Warn("Running without NATS publisher", zap.Error(err))
	} else {
		st.nc = nc
	}

	var history storage.ProfileHistory
	if a.cfg.Storage.Enabled {
		h, err := storage.NewSQLiteProfileHistory(a.logger, a.cfg.Storage.Path)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.history = h
		history = h
	}

	var publisher monitor.Publisher
	if st.nc != nil {
		publisher = st.nc
	}
	alerts := monitor.NewAlertManager(a.logger, publisher)
	for i := range a.cfg.Alerts {
		if err := alerts.AddRule(&a.cfg.Alerts[i]); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to add alert rule %q: %w", a.cfg.Alerts[i].Name, err)
		}
	}

	dialer := transport.NewNATSDialer(a.cfg.NATS.Client, a.logger)
	coord := coordinator.NewCoordinator(dialer, a.cfg.Coordinator(), a.logger)
	st.service = service.NewProfileService(coord, history, alerts, st.nc, a.logger)
	return st, nil
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [code-file]",
		Short: "Profile code across the configured nodes and print the report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, srv, err := a.prepare(f, args)
			if err != nil {
				return err
			}
			if srv != nil {
				defer srv.Shutdown()
			}

			ctx, cancel := a.signalContext()
			defer cancel()

			st, err := a.buildStack(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := st.service.Run(ctx, req)
			if err != nil {
				return err
			}

			return writeReport(cmd, f.output, result.Profile)
		},
	}

	f.register(cmd)
	return cmd
}

func writeReport(cmd *cobra.Command, path string, profile *model.DistributedProfile) error {
	text := report.Render(profile)
	if path == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
