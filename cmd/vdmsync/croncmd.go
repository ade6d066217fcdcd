package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psmsmets/vdmsync/internal/cron"
	"github.com/psmsmets/vdmsync/internal/jobber"
)

func newCronCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage the daily scheduler crontab entry",
	}

	cmd.AddCommand(
		newCronStartCmd(a),
		newCronStopCmd(a),
		newCronRestartCmd(a),
		newCronInfoCmd(a),
		newCronRunCmd(a),
	)

	return cmd
}

func newCronStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Install the daily crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := cronEntry(a)
			if err != nil {
				return err
			}
			if err := cron.New(a.logger).Install(cmd.Context(), entry); err != nil {
				return err
			}
			return recordCrontab(a, entry)
		},
	}
}

func newCronStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Remove the daily crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := cron.New(a.logger).Remove(cmd.Context())
			if err != nil {
				return err
			}
			if !found {
				a.logger.Warn("no crontab entry installed")
			}
			return recordCrontab(a, "")
		},
	}
}

func newCronRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Reinstall the daily crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			tab := cron.New(a.logger)
			if _, err := tab.Remove(cmd.Context()); err != nil {
				return err
			}
			entry, err := cronEntry(a)
			if err != nil {
				return err
			}
			if err := tab.Install(cmd.Context(), entry); err != nil {
				return err
			}
			return recordCrontab(a, entry)
		},
	}
}

func newCronInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the installed crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, found, err := cron.New(a.logger).Current(cmd.Context())
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "no crontab entry installed")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry)
			return nil
		},
	}
}

// newCronRunCmd is the entry point the crontab line invokes; it drains
// the queue like run does.
func newCronRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process scheduled jobs, as invoked from cron",
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
			return scheduler.ProcessAll(cmd.Context())
		},
	}
}

func cronEntry(a *app) (string, error) {
	binary, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolving executable path: %w", err)
	}
	return cron.Entry(a.cfg.Cron.Hour, a.cfg.Cron.Minute, binary, a.home.Dir, a.home.LogFile()), nil
}

// recordCrontab mirrors the installed entry into the queue file so info
// and list reflect it without touching the system crontab.
func recordCrontab(a *app, entry string) error {
	queue, err := a.loadQueue()
	if err != nil {
		return err
	}
	queue.SetCrontab(entry)
	return queue.Save()
}
