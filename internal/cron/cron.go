// Package cron manages the user crontab entry that triggers the daily
// scheduler batch. It shells out to the system crontab command.
package cron

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// marker tags the crontab lines owned by vdmsync so install and remove
// never touch foreign entries.
const marker = "# vdmsync"

// Tab wraps the user crontab.
type Tab struct {
	command string
	logger  *slog.Logger
}

// New returns a Tab using the system crontab command.
func New(logger *slog.Logger) *Tab {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tab{command: "crontab", logger: logger}
}

// Entry builds the crontab line for a daily scheduler batch at the given
// time, running the named binary against the given home directory.
func Entry(hour, minute int, binary, home, logFile string) string {
	return fmt.Sprintf("%d %d * * * %s --dir %s cron run >> %s 2>&1 %s",
		minute, hour, binary, home, logFile, marker)
}

// Current returns the installed vdmsync crontab line, if any.
func (t *Tab) Current(ctx context.Context) (string, bool, error) {
	lines, err := t.read(ctx)
	if err != nil {
		return "", false, err
	}
	for _, line := range lines {
		if strings.HasSuffix(line, marker) {
			return line, true, nil
		}
	}
	return "", false, nil
}

// Install writes the entry into the user crontab, replacing any previous
// vdmsync line.
func (t *Tab) Install(ctx context.Context, entry string) error {
	lines, err := t.read(ctx)
	if err != nil {
		return err
	}
	kept := lines[:0]
	for _, line := range lines {
		if !strings.HasSuffix(line, marker) {
			kept = append(kept, line)
		}
	}
	kept = append(kept, entry)
	if err := t.write(ctx, kept); err != nil {
		return err
	}
	t.logger.Info("installed crontab entry", "entry", entry)
	return nil
}

// Remove deletes the vdmsync line from the user crontab. It reports
// whether a line was present.
func (t *Tab) Remove(ctx context.Context) (bool, error) {
	lines, err := t.read(ctx)
	if err != nil {
		return false, err
	}
	kept := lines[:0]
	found := false
	for _, line := range lines {
		if strings.HasSuffix(line, marker) {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return false, nil
	}
	if err := t.write(ctx, kept); err != nil {
		return false, err
	}
	t.logger.Info("removed crontab entry")
	return true, nil
}

// read lists the current crontab lines. A missing crontab is empty, not
// an error.
func (t *Tab) read(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, t.command, "-l")
	out, err := cmd.CombinedOutput()
	if err != nil {
		// crontab -l exits nonzero when the user has no crontab yet
		if strings.Contains(string(out), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("crontab -l: %w: %s", err, strings.TrimSpace(string(out)))
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// write replaces the user crontab with the given lines.
func (t *Tab) write(ctx context.Context, lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	cmd := exec.CommandContext(ctx, t.command, "-")
	cmd.Stdin = &buf
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("crontab -: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
