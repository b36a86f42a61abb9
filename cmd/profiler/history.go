package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/distributed-profiler/internal/storage"
)

func (a *app) openHistory() (*storage.SQLiteProfileHistory, error) {
	if !a.cfg.Storage.Enabled {
		return nil, fmt.Errorf("profile history is disabled (storage.enabled)")
	}
	return storage.NewSQLiteProfileHistory(a.logger, a.cfg.Storage.Path)
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		filter storage.ListFilter
		prune  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored profiles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}
			defer h.Close()

			ctx := context.Background()
			if prune && a.cfg.Storage.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -a.cfg.Storage.RetentionDays)
				if _, err := h.DeleteBefore(ctx, cutoff); err != nil {
					return err
				}
			}

			records, err := h.List(ctx, filter)
			if err != nil {
				return err
			}
			total, err := h.Count(ctx, filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tSCORE\tOK\tFAILED\tBOTTLENECKS\tCREATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.ID, r.CodeID, r.Score, r.SuccessfulNodes, r.FailedNodes, r.Bottlenecks,
					r.CreatedAt.Local().Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d profiles\n", len(records), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.CodeID, "code-id", "", "only profiles of this code")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum rows")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete profiles older than storage.retention_days first")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report <profile-id>",
		Short: "Render a stored profile as a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.openHistory()
			if err != nil {
				return err
			}
			defer h.Close()

			profile, err := h.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			return writeReport(cmd, output, profile)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to this file instead of stdout")
	return cmd
}
