package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/distributed-profiler/internal/model"
	"github.com/t77yq/distributed-profiler/internal/scheduler"
)

func newScheduleCmd(a *app) *cobra.Command {
	f := &runFlags{}
	var expression string

	cmd := &cobra.Command{
		Use:   "schedule [code-file]",
		Short: "Profile code on a cron expression until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expression == "" {
				expression = a.cfg.Schedule.Expression
			}
			if expression == "" {
				return fmt.Errorf("a cron expression is required (--cron or schedule.expression)")
			}

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

			runs := scheduler.NewRunScheduler(st.service, a.cfg.Schedule.Timeout, a.logger)
			sched := &model.RunSchedule{
				Name:       a.cfg.Schedule.Name,
				Expression: expression,
				CodeID:     req.CodeID,
			}
			if err := runs.Add(sched, req); err != nil {
				return err
			}

			runs.Start()
			defer runs.Stop()

			a.logger.Info("Waiting for scheduled runs",
				zap.String("expression", expression),
				zap.Timep("next_run", sched.NextRunTime))

			<-ctx.Done()
			return nil
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&expression, "cron", "", "cron expression with seconds field, e.g. \"0 */15 * * * *\"")
	return cmd
}
