package jobber

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/psmsmets/vdmsync/internal/engine"
)

// RunRecorder persists the outcome of a finished run for later inspection.
type RunRecorder interface {
	RecordRun(jobID string, out engine.Outcome) error
}

// Scheduler drains the queue one job at a time, persisting the queue file
// after every state transition so a crash never loses progress.
type Scheduler struct {
	queue    *Queue
	runner   Runner
	store    RunRecorder
	defaults RunDefaults
	logger   *slog.Logger
}

// NewScheduler wires a scheduler around the queue. The recorder may be nil.
func NewScheduler(queue *Queue, runner Runner, store RunRecorder, defaults RunDefaults, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{queue: queue, runner: runner, store: store, defaults: defaults, logger: logger}
}

// ProcessAll runs scheduled jobs in priority order until the queue is
// drained or the daily quota runs out. It refuses to start while another
// run appears to be in flight.
func (s *Scheduler) ProcessAll(ctx context.Context) error {
	if s.queue.Processing() {
		return fmt.Errorf("another job is already processing, refusing to start")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, ok := s.queue.Next()
		if !ok {
			return nil
		}
		runNext, err := s.processOne(ctx, job)
		if err != nil {
			return err
		}
		if !runNext {
			s.logger.Info("daily quota exhausted, stopping batch")
			return nil
		}
	}
}

// RunJob processes a single scheduled job by id, outside batch order.
func (s *Scheduler) RunJob(ctx context.Context, id string) error {
	job, ok := s.queue.Find(id)
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	if !job.Scheduled() {
		return fmt.Errorf("job %s is %s, not Scheduled", id, job.Status().Name())
	}
	if s.queue.Processing() {
		return fmt.Errorf("another job is already processing, refusing to start")
	}
	_, err := s.processOne(ctx, job)
	return err
}

func (s *Scheduler) processOne(ctx context.Context, job *Job) (bool, error) {
	job.MarkProcessing()
	if err := s.queue.Save(); err != nil {
		return false, err
	}

	s.logger.Info("processing job",
		"job", job.ID(), "station", job.Station(), "channel", job.Channel())
	outcome, runNext := job.Process(ctx, s.runner, s.defaults, false)

	if err := s.queue.Save(); err != nil {
		return false, err
	}
	if s.store != nil {
		if err := s.store.RecordRun(job.ID(), outcome); err != nil {
			s.logger.Warn("failed to record run", "job", job.ID(), "error", err)
		}
	}

	s.logger.Info("job finished",
		"job", job.ID(),
		"status", job.Status().Name(),
		"outcome", outcome.Status(),
		"bytes", outcome.Bytes)
	return runNext, nil
}
