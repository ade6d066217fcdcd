package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psmsmets/vdmsync/internal/jobber"
)

func newAddCmd(a *app) *cobra.Command {
	var p jobber.JobParams

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Validate a new job and append it to the queue",
		Long: `Validate a new synchronization job and append it to the queue. The job
is checked against the archive path and a live metadata probe before it
is accepted; defaults.json fills in any parameter not given on the
command line.`,
		Example: `  vdmsync add --station I18* --channel BDF --start 2020-01-01 --end 2020-03-31 --sds-root /data/sds
  vdmsync add --station I37* --channel "*" --start 2021-06-01 --priority 5 --request-limit 2GB`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := a.home.LoadDefaults(a.logger)
			if err != nil {
				return err
			}
			applyDefaults(&p, defaults, cmd)

			job, err := jobber.NewJob(p)
			if err != nil {
				return err
			}
			cl := a.client()
			if err := cl.Probe(cmd.Context()); err != nil {
				return err
			}
			if err := job.Check(cmd.Context(), cl); err != nil {
				return fmt.Errorf("job rejected: %w", err)
			}

			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			if !queue.Add(job) {
				return fmt.Errorf("job %s not queued", job.ID())
			}
			if err := queue.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.Describe())
			return nil
		},
	}

	cmd.Flags().StringVar(&p.Starttime, "start", "", "first day, e.g. 2020-01-01")
	cmd.Flags().StringVar(&p.Endtime, "end", "", "last day, inclusive (default the start day)")
	cmd.Flags().StringVar(&p.Station, "station", "", "station selection, wildcards allowed")
	cmd.Flags().StringVar(&p.Channel, "channel", "", "channel selection, wildcards allowed")
	cmd.Flags().StringVar(&p.SDSRoot, "sds-root", "", "archive root directory")
	cmd.Flags().IntVar(&p.Priority, "priority", 0, "scheduling priority, higher runs first")
	cmd.Flags().StringVar(&p.RequestLimit, "request-limit", "", "per-run transfer ceiling, e.g. 2GB")

	return cmd
}

// applyDefaults fills unset job parameters from the defaults map. A flag
// given on the command line always wins.
func applyDefaults(p *jobber.JobParams, defaults map[string]any, cmd *cobra.Command) {
	str := func(key string) string {
		if v, ok := defaults[key].(string); ok {
			return v
		}
		return ""
	}
	if p.Starttime == "" {
		p.Starttime = str("starttime")
	}
	if p.Endtime == "" {
		p.Endtime = str("endtime")
	}
	if p.Station == "" {
		p.Station = str("station")
	}
	if p.Channel == "" {
		p.Channel = str("channel")
	}
	if p.SDSRoot == "" {
		p.SDSRoot = str("sds_root")
	}
	if p.RequestLimit == "" {
		p.RequestLimit = str("request_limit")
	}
	if p.Client == "" {
		p.Client = str("client")
	}
	if !cmd.Flags().Changed("priority") {
		if v, ok := defaults["priority"].(float64); ok {
			p.Priority = int(v)
		}
	}
	if p.ClientKwargs == nil {
		if v, ok := defaults["client_kwargs"].(map[string]any); ok {
			p.ClientKwargs = v
		}
	}
}

func newListCmd(a *app) *cobra.Command {
	var users, statuses []string

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List queued jobs",
		Example: "  vdmsync list -s scheduled -s processing -u alice",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			jobs := queue.Items(users, statuses)
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}
			for _, job := range jobs {
				fmt.Fprintln(cmd.OutOrStdout(), job.Describe())
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&users, "user", "u", nil, "filter by owning user")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "filter by state name")

	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show one job including its full status history",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			job, err := findJob(queue, jobID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, job.Describe())
			fmt.Fprintln(out, "history:")
			for _, entry := range job.History() {
				fmt.Fprintf(out, "  %s  %s\n",
					entry.Time.Format("2006-01-02 15:04:05"), entry.Code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")

	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		jobID        string
		priority     int
		requestLimit string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change the priority or request limit of a queued job",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			job, err := findJob(queue, jobID)
			if err != nil {
				return err
			}
			if err := job.Update(priority, requestLimit); err != nil {
				return err
			}
			if err := queue.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.Describe())
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")
	cmd.Flags().IntVar(&priority, "priority", 0, "new scheduling priority")
	cmd.Flags().StringVar(&requestLimit, "request-limit", "", "new per-run transfer ceiling, e.g. 2GB")

	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a job without removing its history",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			job, err := findJob(queue, jobID)
			if err != nil {
				return err
			}
			if !job.Active() {
				return fmt.Errorf("job %s is already %s",
					job.ID(), strings.ToLower(job.Status().Name()))
			}
			job.Cancel()
			if err := queue.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.Describe())
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")

	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reschedule an errored job for another attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			job, err := findJob(queue, jobID)
			if err != nil {
				return err
			}
			if job.Status() != jobber.StatusError {
				return fmt.Errorf("job %s is %s, only errored jobs can be reset",
					job.ID(), job.Status().Name())
			}
			job.Reset()
			if err := queue.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.Describe())
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job id")

	return cmd
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Drop completed, cancelled and errored jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.loadQueue()
			if err != nil {
				return err
			}
			removed := queue.Clean()
			if err := queue.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d job(s)\n", removed)
			return nil
		},
	}
}
