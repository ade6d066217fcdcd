package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psmsmets/vdmsync/internal/archive"
	"github.com/psmsmets/vdmsync/internal/client"
	"github.com/psmsmets/vdmsync/internal/config"
	"github.com/psmsmets/vdmsync/internal/engine"
	"github.com/psmsmets/vdmsync/internal/jobber"
	"github.com/psmsmets/vdmsync/internal/store"
)

// app carries the resolved home, configuration and logger through the
// command tree. Commands receive it explicitly instead of reaching for
// package-level state.
type app struct {
	dirFlag   string
	logLevel  string
	logFormat string

	home   config.Home
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "vdmsync",
		Short: "Queue and schedule waveform archive synchronization",
		Long: `vdmsync maintains a local SDS waveform archive against a remote data
center. Jobs describe a station, channel and time window; a persisted
queue carries them across invocations, and a cron-driven scheduler runs
one job at a time, requesting only the days the archive is missing.`,
		Example: `  vdmsync add --station I18* --channel BDF --start 2020-01-01 --end 2020-03-31 --sds-root /data/sds
  vdmsync list -s scheduled
  vdmsync run
  vdmsync cron start`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.setupLogging()
			if skipsHome(cmd.Name()) {
				return nil
			}
			home, err := config.ResolveHome(a.dirFlag)
			if err != nil {
				return err
			}
			a.home = home
			cfg, err := home.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			a.logger.Debug("home resolved", "dir", home.Dir)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.dirFlag, "dir", "d", "",
		"vdmsync home directory (default $VDMSYNC_HOME or ~/.vdmsync)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newAddCmd(a),
		newListCmd(a),
		newInfoCmd(a),
		newUpdateCmd(a),
		newCancelCmd(a),
		newResetCmd(a),
		newCleanCmd(a),
		newRunCmd(a),
		newLogsCmd(a),
		newDefaultsCmd(a),
		newCronCmd(a),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags.
func (a *app) setupLogging() {
	var level slog.Level
	switch strings.ToLower(a.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(a.logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
}

// skipsHome lists the commands that run without a home directory.
func skipsHome(cmdName string) bool {
	switch cmdName {
	case "help", "version", "completion":
		return true
	}
	return false
}

// client returns the command-line client from the tool configuration.
func (a *app) client() *client.Client {
	return client.New(a.cfg.Client.Command, a.logger)
}

// runner wires the synchronization engine around the client.
func (a *app) runner() *engine.Runner {
	c := a.client()
	factory := func(root string) engine.Archive {
		return archive.New(root, a.cfg.Client.Network, a.logger)
	}
	return engine.NewRunner(c, c, c, factory, a.logger)
}

// runDefaults maps the sync section of the tool configuration onto the
// per-run settings; job client_kwargs still override them.
func (a *app) runDefaults() jobber.RunDefaults {
	return jobber.RunDefaults{
		ThresholdSeconds: a.cfg.Sync.ForceRequestThreshold,
		VerifyArchive:    a.cfg.Sync.VerifyArchive,
	}
}

// loadQueue reads the queue file from the home directory.
func (a *app) loadQueue() (*jobber.Queue, error) {
	return jobber.LoadQueue(a.home.QueueFile(), a.logger)
}

// openStore opens the run-history database from the home directory.
func (a *app) openStore() (*store.Store, error) {
	return store.New(a.home.DatabaseFile(), a.logger)
}

// findJob resolves the --job flag against the queue.
func findJob(queue *jobber.Queue, id string) (*jobber.Job, error) {
	if id == "" {
		return nil, fmt.Errorf("a job id is required, see --job")
	}
	job, ok := queue.Find(id)
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}
