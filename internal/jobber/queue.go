package jobber

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const queueReadme = "Do not edit this file by hand. It is managed by vdmsync " +
	"and protected by a content hash; manual edits make the queue unreadable."

// TamperError reports a queue file whose jobs no longer match the stored
// content hash.
type TamperError struct {
	Path string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("queue file %s failed its integrity check, refusing to load", e.Path)
}

// queueFile is the on-disk shape of the persisted queue.
type queueFile struct {
	Readme      string      `json:"_readme"`
	Crontab     *string     `json:"crontab"`
	ContentHash string      `json:"content_hash"`
	Jobs        []jobRecord `json:"jobs"`
}

// Queue is the insertion-ordered collection of jobs behind one queue file.
// It is not safe for concurrent use; the scheduler owns it.
type Queue struct {
	path    string
	crontab string
	jobs    []*Job
	logger  *slog.Logger
}

// NewQueue returns an empty queue bound to the given file path.
func NewQueue(path string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{path: path, logger: logger}
}

// LoadQueue reads the queue file, verifying its content hash. A missing
// file yields an empty queue.
func LoadQueue(path string, logger *slog.Logger) (*Queue, error) {
	q := NewQueue(path, logger)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}

	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode queue %s: %w", path, err)
	}

	sum, err := contentHash(file.Jobs)
	if err != nil {
		return nil, err
	}
	if sum != file.ContentHash {
		return nil, &TamperError{Path: path}
	}

	if file.Crontab != nil {
		q.crontab = *file.Crontab
	}
	for _, r := range file.Jobs {
		job, err := jobFromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("decode queue %s: %w", path, err)
		}
		q.jobs = append(q.jobs, job)
	}
	return q, nil
}

// Save writes the queue file atomically, stamping the content hash.
func (q *Queue) Save() error {
	records := make([]jobRecord, 0, len(q.jobs))
	for _, job := range q.jobs {
		records = append(records, job.record())
	}

	sum, err := contentHash(records)
	if err != nil {
		return err
	}

	file := queueFile{
		Readme:      queueReadme,
		ContentHash: sum,
		Jobs:        records,
	}
	if q.crontab != "" {
		file.Crontab = &q.crontab
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}

// contentHash returns the sha256 hex digest of the canonical job encoding.
func contentHash(records []jobRecord) (string, error) {
	if records == nil {
		records = []jobRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("hash queue: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Path returns the queue file location.
func (q *Queue) Path() string { return q.path }

// Crontab returns the recorded cron descriptor, empty when none is set.
func (q *Queue) Crontab() string { return q.crontab }

// SetCrontab records or clears the cron descriptor.
func (q *Queue) SetCrontab(entry string) { q.crontab = entry }

// Len returns the number of jobs in the queue.
func (q *Queue) Len() int { return len(q.jobs) }

// Add appends a validated job and schedules it. Duplicate ids and jobs
// that never passed their check are refused with a warning.
func (q *Queue) Add(job *Job) bool {
	if _, ok := q.Find(job.ID()); ok {
		q.logger.Warn("job already queued", "job", job.ID())
		return false
	}
	if !job.Ready() {
		q.logger.Warn("job has not passed its check, not queueing",
			"job", job.ID(), "status", job.Status().Name())
		return false
	}
	job.Schedule()
	q.jobs = append(q.jobs, job)
	return true
}

// Remove deletes the job with the given id, warning when it is absent.
func (q *Queue) Remove(id string) bool {
	for i, job := range q.jobs {
		if job.ID() == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	q.logger.Warn("job not found in queue", "job", id)
	return false
}

// Find returns the job with the given id.
func (q *Queue) Find(id string) (*Job, bool) {
	for _, job := range q.jobs {
		if job.ID() == id {
			return job, true
		}
	}
	return nil, false
}

// Next returns the scheduled job with the highest priority. Ties keep
// insertion order.
func (q *Queue) Next() (*Job, bool) {
	var best *Job
	for _, job := range q.jobs {
		if !job.Scheduled() {
			continue
		}
		if best == nil || job.Priority() > best.Priority() {
			best = job
		}
	}
	return best, best != nil
}

// Jobs returns the jobs in insertion order.
func (q *Queue) Jobs() []*Job {
	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// Items returns the jobs matching the given user and status-name filters,
// sorted by descending priority with insertion order breaking ties.
func (q *Queue) Items(users, statuses []string) []*Job {
	var out []*Job
	for _, job := range q.jobs {
		if job.HasUser(users) && job.HasStatusName(statuses) {
			out = append(out, job)
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		return out[i].Priority() > out[k].Priority()
	})
	return out
}

// Processing reports whether any job is currently marked Processing.
func (q *Queue) Processing() bool {
	for _, job := range q.jobs {
		if job.Processing() {
			return true
		}
	}
	return false
}

// Clean drops all jobs in a terminal state and returns how many were
// removed.
func (q *Queue) Clean() int {
	kept := q.jobs[:0]
	removed := 0
	for _, job := range q.jobs {
		if job.Active() {
			kept = append(kept, job)
		} else {
			removed++
		}
	}
	q.jobs = kept
	return removed
}
