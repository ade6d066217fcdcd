package jobber

import (
	"context"
	"testing"
	"time"

	"github.com/psmsmets/vdmsync/internal/engine"
	"github.com/psmsmets/vdmsync/internal/message"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fakeProber struct {
	records []message.ChannelRecord
	err     error
}

func (f *fakeProber) FetchChannels(ctx context.Context, station, channel string) ([]message.ChannelRecord, int64, error) {
	return f.records, 0, f.err
}

type fakeRunner struct {
	outcome engine.Outcome
	params  []engine.Params
}

func (f *fakeRunner) Run(ctx context.Context, p engine.Params) engine.Outcome {
	f.params = append(f.params, p)
	return f.outcome
}

func testParams(t *testing.T) JobParams {
	t.Helper()
	return JobParams{
		Starttime: "2020-01-01",
		Endtime:   "2020-01-10",
		Station:   "I18H1",
		Channel:   "BDF",
		SDSRoot:   t.TempDir(),
	}
}

func readyJob(t *testing.T) *Job {
	t.Helper()
	job, err := NewJob(testParams(t))
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	prober := &fakeProber{records: []message.ChannelRecord{{Station: "I18H1", Channel: "BDF", SamplingRate: 20}}}
	if err := job.Check(context.Background(), prober); err != nil {
		t.Fatalf("Check: %v", err)
	}
	return job
}

func TestNewJobValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobParams)
	}{
		{"missing station", func(p *JobParams) { p.Station = "" }},
		{"missing channel", func(p *JobParams) { p.Channel = "" }},
		{"missing sds root", func(p *JobParams) { p.SDSRoot = "" }},
		{"bad starttime", func(p *JobParams) { p.Starttime = "yesterday" }},
		{"end before start", func(p *JobParams) { p.Endtime = "2019-01-01" }},
		{"bad request limit", func(p *JobParams) { p.RequestLimit = "a lot" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams(t)
			tt.mutate(&p)
			if _, err := NewJob(p); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewJobDefaults(t *testing.T) {
	p := testParams(t)
	p.Endtime = ""
	p.RequestLimit = "2GB"

	job, err := NewJob(p)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if job.Status() != StatusPending {
		t.Errorf("new job status = %s, want pending", job.Status())
	}
	if !job.End().Equal(job.Start()) {
		t.Errorf("missing endtime must default to the start day")
	}
	if job.Priority() != 1 {
		t.Errorf("default priority = %d, want 1", job.Priority())
	}
	if job.RequestLimit() != 2_000_000_000 {
		t.Errorf("request limit = %d, want 2000000000", job.RequestLimit())
	}
	if len(job.ID()) != 8 {
		t.Errorf("job id %q, want 8 hex characters", job.ID())
	}
	if job.User() == "" {
		t.Error("job user must default to the current user")
	}
}

func TestJobCheck(t *testing.T) {
	t.Run("passes with channels", func(t *testing.T) {
		job := readyJob(t)
		if job.Status() != StatusReady {
			t.Errorf("status = %s, want ready", job.Status())
		}
		if !job.Ready() {
			t.Error("Ready() = false after a passed check")
		}
	})

	t.Run("fails without archive root", func(t *testing.T) {
		p := testParams(t)
		p.SDSRoot = p.SDSRoot + "/does-not-exist"
		job, err := NewJob(p)
		if err != nil {
			t.Fatalf("NewJob: %v", err)
		}
		if err := job.Check(context.Background(), &fakeProber{}); err == nil {
			t.Fatal("check must fail for a missing archive root")
		}
		if job.Status() != StatusError {
			t.Errorf("status = %s, want error", job.Status())
		}
	})

	t.Run("fails without channels", func(t *testing.T) {
		job, err := NewJob(testParams(t))
		if err != nil {
			t.Fatalf("NewJob: %v", err)
		}
		if err := job.Check(context.Background(), &fakeProber{}); err == nil {
			t.Fatal("check must fail when the probe returns nothing")
		}
		if job.Status() != StatusError {
			t.Errorf("status = %s, want error", job.Status())
		}
	})
}

func TestJobProcessOutcomes(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		job := readyJob(t)
		job.Schedule()

		out, runNext := job.Process(context.Background(), &fakeRunner{
			outcome: engine.Outcome{Success: true, Bytes: 42},
		}, StandardRunDefaults(), true)

		if !out.Completed() {
			t.Fatalf("outcome not completed: %+v", out)
		}
		if job.Status() != StatusCompleted {
			t.Errorf("status = %s, want completed", job.Status())
		}
		if job.Cursor() != nil {
			t.Error("completed job must clear its cursor")
		}
		if !runNext {
			t.Error("completed job must allow the next run")
		}
	})

	t.Run("paused mid window", func(t *testing.T) {
		job := readyJob(t)
		job.Schedule()
		paused := day("2020-01-05")

		out, runNext := job.Process(context.Background(), &fakeRunner{
			outcome: engine.Outcome{Success: true, QuotaExceeded: true, PausedAt: &paused},
		}, StandardRunDefaults(), true)

		if out.Completed() {
			t.Fatal("paused outcome reported completed")
		}
		if job.Status() != StatusScheduled {
			t.Errorf("status = %s, want scheduled for resume", job.Status())
		}
		if job.Cursor() == nil || !job.Cursor().Equal(paused) {
			t.Errorf("cursor = %v, want %v", job.Cursor(), paused)
		}
		if runNext {
			t.Error("quota exhaustion must stop the batch")
		}
	})

	t.Run("failed", func(t *testing.T) {
		job := readyJob(t)
		job.Schedule()
		failed := day("2020-01-03")

		out, runNext := job.Process(context.Background(), &fakeRunner{
			outcome: engine.Outcome{Error: "request rejected", PausedAt: &failed},
		}, StandardRunDefaults(), true)

		if out.Success {
			t.Fatal("failed outcome reported success")
		}
		if job.Status() != StatusError {
			t.Errorf("status = %s, want error", job.Status())
		}
		// a plain failure does not burn the quota
		if !runNext {
			t.Error("failed job must still allow the next run")
		}
	})

	t.Run("pause outside window errors", func(t *testing.T) {
		job := readyJob(t)
		job.Schedule()
		paused := day("2021-06-01")

		job.Process(context.Background(), &fakeRunner{
			outcome: engine.Outcome{Success: true, PausedAt: &paused},
		}, StandardRunDefaults(), true)

		if job.Status() != StatusError {
			t.Errorf("status = %s, want error for an out-of-window cursor", job.Status())
		}
	})

	t.Run("resume passes the cursor", func(t *testing.T) {
		job := readyJob(t)
		job.Schedule()
		resume := day("2020-01-05")
		job.Pause(resume)

		runner := &fakeRunner{outcome: engine.Outcome{Success: true}}
		job.Process(context.Background(), runner, StandardRunDefaults(), true)

		if len(runner.params) != 1 {
			t.Fatalf("runner invoked %d times", len(runner.params))
		}
		got := runner.params[0].ResumeFrom
		if got == nil || !got.Equal(resume) {
			t.Errorf("ResumeFrom = %v, want %v", got, resume)
		}
	})
}

func TestJobCancelAndReset(t *testing.T) {
	job := readyJob(t)
	job.Schedule()

	job.Cancel()
	if job.Status() != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status())
	}

	// cancel is absorbing
	job.Cancel()
	job.Reset()
	if job.Status() != StatusCancelled {
		t.Errorf("cancelled job changed state to %s", job.Status())
	}

	errored := readyJob(t)
	errored.Schedule()
	errored.status.Append(StatusError)
	errored.Reset()
	if errored.Status() != StatusScheduled {
		t.Errorf("reset errored job = %s, want scheduled", errored.Status())
	}
}

func TestJobUpdate(t *testing.T) {
	job := readyJob(t)
	id := job.ID()
	history := len(job.History())

	if err := job.Update(7, "500MB"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if job.Priority() != 7 {
		t.Errorf("priority = %d, want 7", job.Priority())
	}
	if job.RequestLimit() != 500_000_000 {
		t.Errorf("request limit = %d, want 500000000", job.RequestLimit())
	}
	if job.ID() != id {
		t.Error("update must not change the job id")
	}
	if len(job.History()) != history {
		t.Error("update must not touch the status history")
	}

	if err := job.Update(0, "not-a-size"); err == nil {
		t.Error("illegal request limit must be rejected")
	}
}

func TestJobKwargsOverrides(t *testing.T) {
	p := testParams(t)
	p.ClientKwargs = map[string]any{
		"force_request_threshold": 600.0,
		"verify_archive":          false,
	}
	job, err := NewJob(p)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}

	ep := job.engineParams(StandardRunDefaults())
	if ep.ThresholdSeconds != 600 {
		t.Errorf("threshold = %g, want 600", ep.ThresholdSeconds)
	}
	if ep.VerifyArchive {
		t.Error("verify_archive override ignored")
	}
}

// Tool-configuration settings must reach the run parameters, with the
// job's client_kwargs still taking precedence.
func TestJobRunDefaultsApplied(t *testing.T) {
	configured := RunDefaults{ThresholdSeconds: 1200, VerifyArchive: false}

	job, err := NewJob(testParams(t))
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	ep := job.engineParams(configured)
	if ep.ThresholdSeconds != 1200 {
		t.Errorf("threshold = %g, want the configured 1200", ep.ThresholdSeconds)
	}
	if ep.VerifyArchive {
		t.Error("configured verify_archive=false ignored")
	}

	p := testParams(t)
	p.ClientKwargs = map[string]any{"force_request_threshold": 60.0}
	job, err = NewJob(p)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	ep = job.engineParams(configured)
	if ep.ThresholdSeconds != 60 {
		t.Errorf("threshold = %g, kwargs must win over the configuration", ep.ThresholdSeconds)
	}
}
