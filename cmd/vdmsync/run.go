package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psmsmets/vdmsync/internal/jobber"
)

func newRunCmd(a *app) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process scheduled jobs",
		Long: `Process scheduled jobs in priority order until the queue is drained or
the remote daily quota runs out. With --job, process that single job
regardless of its priority.`,
		Example: `  vdmsync run
  vdmsync run -j 1a2b3c4d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			scheduler := jobber.NewScheduler(queue, a.runner(), st, a.runDefaults(), a.logger)
			if jobID != "" {
				return scheduler.RunJob(cmd.Context(), jobID)
			}
			return scheduler.ProcessAll(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "process only this job")

	return cmd
}

func newLogsCmd(a *app) *cobra.Command {
	var (
		jobID string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the recorded runs of a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			job, err := findJob(queue, jobID)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(job.ID(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
				return nil
			}
			for _, run := range runs {
				line := fmt.Sprintf("%s  %-9s  %d bytes",
					run.CreatedAt.Format("2006-01-02 15:04:05"), run.Status, run.Bytes)
				if run.PausedAt != nil {
					line += "  paused at " + run.PausedAt.Format("2006-01-02")
				}
				if run.QuotaExceeded {
					line += "  quota exceeded"
				}
				if run.Error != "" {
					line += "  " + run.Error
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show, 0 for all")

	return cmd
}
