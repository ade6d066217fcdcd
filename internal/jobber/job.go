// Package jobber holds the durable job descriptions, the persisted queue
// and the scheduler loop that drives synchronization runs across process
// invocations.
package jobber

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/psmsmets/vdmsync/internal/engine"
)

// DefaultClient is the client label recorded for new jobs.
const DefaultClient = "waveforms2sds"

// DefaultThreshold is the forced-request gap threshold in seconds, used
// when a job carries no explicit override.
const DefaultThreshold = 300.0

// Runner executes one synchronization run; satisfied by *engine.Runner.
type Runner interface {
	Run(ctx context.Context, p engine.Params) engine.Outcome
}

// RunDefaults are the tool-configuration settings applied to every run.
// A job's client_kwargs still override them per job.
type RunDefaults struct {
	ThresholdSeconds float64
	VerifyArchive    bool
}

// StandardRunDefaults returns the built-in run settings used when no
// tool configuration was loaded.
func StandardRunDefaults() RunDefaults {
	return RunDefaults{ThresholdSeconds: DefaultThreshold, VerifyArchive: true}
}

// Prober performs the live metadata probe used to validate a job;
// satisfied by the engine's Inventory collaborator.
type Prober = engine.Inventory

// JobParams are the user-supplied parameters for a new job.
type JobParams struct {
	Starttime    string
	Endtime      string
	Station      string
	Channel      string
	SDSRoot      string
	Priority     int
	RequestLimit string // human-readable, e.g. "2GB"; empty means no limit
	User         string
	Client       string
	ClientKwargs map[string]any
}

// Job is a durable, resumable description of one synchronization task plus
// its full status history.
type Job struct {
	id           string
	start        time.Time
	end          time.Time
	cursor       *time.Time // resume day; nil means fresh or fully done
	station      string
	channel      string
	sdsRoot      string
	priority     int
	requestLimit int64 // bytes; 0 means no limit
	user         string
	client       string
	clientKwargs map[string]any
	status       StatusLog
}

// NewJob validates the parameters and constructs a Pending job.
func NewJob(p JobParams) (*Job, error) {
	if p.Station == "" {
		return nil, fmt.Errorf("station is required")
	}
	if p.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if p.SDSRoot == "" {
		return nil, fmt.Errorf("sds_root is required")
	}

	start, err := parseDay(p.Starttime)
	if err != nil {
		return nil, fmt.Errorf("starttime: %w", err)
	}
	end := start
	if p.Endtime != "" {
		end, err = parseDay(p.Endtime)
		if err != nil {
			return nil, fmt.Errorf("endtime: %w", err)
		}
	}
	if end.Before(start) {
		return nil, fmt.Errorf("endtime %s precedes starttime %s", p.Endtime, p.Starttime)
	}

	var limit int64
	if p.RequestLimit != "" {
		n, err := humanize.ParseBytes(p.RequestLimit)
		if err != nil {
			return nil, fmt.Errorf("request_limit: %w", err)
		}
		limit = int64(n)
	}

	priority := p.Priority
	if priority == 0 {
		priority = 1
	}

	username := p.User
	if username == "" {
		username = currentUser()
	}

	clientName := p.Client
	if clientName == "" {
		clientName = DefaultClient
	}

	j := &Job{
		id:           jobToken(),
		start:        start,
		end:          end,
		station:      p.Station,
		channel:      p.Channel,
		sdsRoot:      p.SDSRoot,
		priority:     priority,
		requestLimit: limit,
		user:         username,
		client:       clientName,
		clientKwargs: p.ClientKwargs,
	}
	if err := j.status.Append(StatusPending); err != nil {
		return nil, err
	}
	return j, nil
}

// ID returns the job's stable identifier.
func (j *Job) ID() string { return j.id }

// Station returns the station selection.
func (j *Job) Station() string { return j.station }

// Channel returns the channel selection.
func (j *Job) Channel() string { return j.channel }

// SDSRoot returns the archive root path.
func (j *Job) SDSRoot() string { return j.sdsRoot }

// Start returns the first day of the job window.
func (j *Job) Start() time.Time { return j.start }

// End returns the last day of the job window.
func (j *Job) End() time.Time { return j.end }

// Cursor returns the resume day of a paused job, nil otherwise.
func (j *Job) Cursor() *time.Time { return j.cursor }

// Priority returns the scheduling priority; higher runs first.
func (j *Job) Priority() int { return j.priority }

// RequestLimit returns the per-run byte ceiling, 0 when unlimited.
func (j *Job) RequestLimit() int64 { return j.requestLimit }

// User returns the owning user name.
func (j *Job) User() string { return j.user }

// Status returns the current lifecycle state.
func (j *Job) Status() StatusCode { return j.status.Current() }

// History returns the full append-only status history.
func (j *Job) History() []StatusEntry { return j.status.Entries() }

// Ready reports whether the job passed validation at some point.
func (j *Job) Ready() bool { return j.status.Has(StatusReady) }

// Scheduled reports whether the job currently awaits processing.
func (j *Job) Scheduled() bool { return j.Status() == StatusScheduled }

// Processing reports whether the job is currently running.
func (j *Job) Processing() bool { return j.Status() == StatusProcessing }

// Active reports whether the job can still make progress.
func (j *Job) Active() bool { return !j.Status().Terminal() }

// Paused reports whether the job stopped mid-window with a resume cursor.
func (j *Job) Paused() bool {
	return j.cursor != nil && j.cursor.After(j.start) && j.cursor.Before(j.end)
}

// HasUser reports whether the job belongs to one of the given users.
// An empty filter matches every job.
func (j *Job) HasUser(users []string) bool {
	if len(users) == 0 {
		return true
	}
	for _, u := range users {
		if j.user == u {
			return true
		}
	}
	return false
}

// HasStatusName reports whether the job's current state matches one of the
// given lowercase state names. An empty filter matches every job.
func (j *Job) HasStatusName(names []string) bool {
	if len(names) == 0 {
		return true
	}
	current := j.Status().Name()
	for _, name := range names {
		if strings.EqualFold(current, name) {
			return true
		}
	}
	return false
}

// Check validates the job against the archive path and a live metadata
// probe, moving it to Ready or Error.
func (j *Job) Check(ctx context.Context, prober Prober) error {
	j.status.Append(StatusCheck)

	info, err := os.Stat(j.sdsRoot)
	if err != nil || !info.IsDir() {
		j.status.Append(StatusError)
		return fmt.Errorf("archive root %q does not exist", j.sdsRoot)
	}

	records, _, err := prober.FetchChannels(ctx, j.station, j.channel)
	if err != nil {
		j.status.Append(StatusError)
		return fmt.Errorf("metadata probe failed: %w", err)
	}
	if len(records) == 0 {
		j.status.Append(StatusError)
		return fmt.Errorf("metadata probe returned no channels for %s.%s", j.station, j.channel)
	}

	j.status.Append(StatusReady)
	return nil
}

// Schedule marks the job Scheduled. Only the queue calls this on add;
// Reset uses it to revive an errored job.
func (j *Job) Schedule() {
	if j.Status() != StatusScheduled {
		j.status.Append(StatusScheduled)
	}
}

// MarkProcessing records the Processing transition ahead of a run so the
// queue can persist it before any request goes out.
func (j *Job) MarkProcessing() {
	j.status.Append(StatusProcessing)
}

// Process runs the job's synchronization window, resuming from the cursor
// when set, and applies the outcome to the job state. The boolean return
// tells the caller whether it may immediately start the next job; false
// means the daily quota is gone and the batch should stop.
func (j *Job) Process(ctx context.Context, runner Runner, defaults RunDefaults, updateStatus bool) (engine.Outcome, bool) {
	if j.cursor == nil {
		start := j.start
		j.cursor = &start
	}
	if updateStatus {
		j.status.Append(StatusProcessing)
	}

	outcome := runner.Run(ctx, j.engineParams(defaults))

	switch {
	case !outcome.Success:
		j.status.Append(StatusError)
		// keep the failing day on the cursor for diagnostics
		j.cursor = outcome.PausedAt
	case outcome.PausedAt == nil:
		j.status.Append(StatusCompleted)
		j.cursor = nil
	default:
		j.Pause(*outcome.PausedAt)
	}

	return outcome, !outcome.QuotaExceeded
}

// Pause sets the resume cursor and reschedules the job. A cursor outside
// the job window forces Error instead.
func (j *Job) Pause(day time.Time) {
	day = truncateDay(day)
	if day.Before(j.start) || day.After(j.end) {
		j.status.Append(StatusError)
		return
	}
	j.cursor = &day
	j.Schedule()
}

// Cancel moves a non-terminal job into the absorbing Cancelled state.
func (j *Job) Cancel() {
	if j.Active() {
		j.status.Append(StatusCancelled)
	}
}

// Reset manually revives an errored job for another attempt.
func (j *Job) Reset() {
	if j.Status() == StatusError {
		j.status.Append(StatusScheduled)
	}
}

// Update mutates the mutable job fields. It never touches the id or the
// status history.
func (j *Job) Update(priority int, requestLimit string) error {
	if priority != 0 {
		j.priority = priority
	}
	if requestLimit != "" {
		n, err := humanize.ParseBytes(requestLimit)
		if err != nil {
			return fmt.Errorf("request_limit: %w", err)
		}
		j.requestLimit = int64(n)
	}
	return nil
}

// engineParams maps the job onto run parameters. The tool-configuration
// defaults seed the gap threshold and the archive verification sweep;
// client_kwargs override both per job.
func (j *Job) engineParams(defaults RunDefaults) engine.Params {
	p := engine.Params{
		Station:          j.station,
		Channel:          j.channel,
		Start:            j.start,
		End:              j.end,
		SDSRoot:          j.sdsRoot,
		ThresholdSeconds: defaults.ThresholdSeconds,
		RequestLimit:     j.requestLimit,
		ResumeFrom:       j.cursor,
		VerifyArchive:    defaults.VerifyArchive,
	}
	if v, ok := toFloat(j.clientKwargs["force_request_threshold"]); ok {
		p.ThresholdSeconds = v
	}
	if v, ok := j.clientKwargs["verify_archive"].(bool); ok {
		p.VerifyArchive = v
	}
	return p
}

// Describe returns the human-readable one-line summary used by the CLI.
func (j *Job) Describe() string {
	limit := "none"
	if j.requestLimit > 0 {
		limit = humanize.Bytes(uint64(j.requestLimit))
	}
	cursor := ""
	if j.cursor != nil {
		cursor = " @ " + j.cursor.Format("2006-01-02")
	}
	return fmt.Sprintf("%s %s.%s %s..%s prio=%d limit=%s user=%s %s%s",
		j.id, j.station, j.channel,
		j.start.Format("2006-01-02"), j.end.Format("2006-01-02"),
		j.priority, limit, j.user, j.Status().Name(), cursor)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// jobToken returns a short random hex id.
func jobToken() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// parseDay accepts the date spellings used on the command line and in the
// queue file, truncated to UTC midnight.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{"2006-01-02", "2006/01/02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
