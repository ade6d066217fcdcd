package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/psmsmets/vdmsync/internal/engine"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "vdmsync.db"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vdmsync.db")

	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	s, err = New(path, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s.Close()
}

func TestRecordAndListRuns(t *testing.T) {
	s := testStore(t)

	paused := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
	outcomes := []engine.Outcome{
		{Success: true, Bytes: 1024},
		{Success: true, QuotaExceeded: true, PausedAt: &paused, Bytes: 2048},
		{Error: "request rejected", Bytes: 10},
	}
	for _, out := range outcomes {
		if err := s.RecordRun("1a2b3c4d", out); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	if err := s.RecordRun("ffffffff", engine.Outcome{Success: true}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := s.Runs("1a2b3c4d", 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("listed %d runs, want 3", len(runs))
	}

	statuses := map[string]bool{}
	for _, run := range runs {
		if run.JobID != "1a2b3c4d" {
			t.Errorf("run for foreign job %s listed", run.JobID)
		}
		if run.ID == "" {
			t.Error("run without an id")
		}
		statuses[run.Status] = true
	}
	for _, want := range []string{"completed", "paused", "error"} {
		if !statuses[want] {
			t.Errorf("missing run with status %q", want)
		}
	}

	for _, run := range runs {
		switch run.Status {
		case "paused":
			if run.PausedAt == nil || !run.PausedAt.Equal(paused) {
				t.Errorf("paused run PausedAt = %v, want %v", run.PausedAt, paused)
			}
			if !run.QuotaExceeded {
				t.Error("paused run lost its quota flag")
			}
		case "error":
			if run.Error != "request rejected" {
				t.Errorf("error run message = %q", run.Error)
			}
		}
	}
}

func TestRunsLimit(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 5; i++ {
		if err := s.RecordRun("1a2b3c4d", engine.Outcome{Success: true}); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := s.Runs("1a2b3c4d", 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("listed %d runs, want 2", len(runs))
	}
}
