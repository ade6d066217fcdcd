// Package engine implements the archive-synchronization core: it walks a
// date range day by day, decides per channel whether locally archived data
// is complete, and requests only what is missing while tracking request
// size against an optional quota.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/psmsmets/vdmsync/internal/archive"
	"github.com/psmsmets/vdmsync/internal/client"
	"github.com/psmsmets/vdmsync/internal/message"
)

// Inventory fetches the channel metadata for a station/channel selection.
type Inventory interface {
	FetchChannels(ctx context.Context, station, channel string) ([]message.ChannelRecord, int64, error)
}

// StatusLookup fetches the remote availability report for one day.
type StatusLookup interface {
	FetchStatus(ctx context.Context, station, channel string, day time.Time) ([]message.StatusRow, int64, error)
}

// WaveformFetcher requests waveform data for a coalesced selection
// covering one day.
type WaveformFetcher interface {
	FetchWaveforms(ctx context.Context, stations, channels []string, day time.Time) ([]archive.Segment, int64, error)
}

// Archive is the local day/channel sample store.
type Archive interface {
	Availability(station, channel string, day time.Time) (float64, error)
	Read(station, channel string, day time.Time) ([]archive.Segment, error)
	Write(segments []archive.Segment) error
	WriteDay(station, channel string, day time.Time, segments []archive.Segment) error
}

// ArchiveFactory opens the archive rooted at the given directory.
type ArchiveFactory func(root string) Archive

// Params describes one synchronization run.
type Params struct {
	Station string
	Channel string
	Start   time.Time // first day, inclusive
	End     time.Time // last day, inclusive
	SDSRoot string

	// ThresholdSeconds is the per-day gap, in seconds, that forces a
	// re-request of partially archived data. Must lie in [0, 86400].
	ThresholdSeconds float64

	// RequestLimit caps the cumulative bytes transferred by this run.
	// Zero means unlimited.
	RequestLimit int64

	// ResumeFrom restarts a paused run at this day instead of Start.
	ResumeFrom *time.Time

	// VerifyArchive sweeps partially covered days for sampling-rate
	// inconsistencies against the inventory.
	VerifyArchive bool
}

// Validate checks the run parameters before anything is submitted.
func (p Params) Validate() error {
	if p.Station == "" || p.Channel == "" {
		return fmt.Errorf("station and channel selections are required")
	}
	if p.SDSRoot == "" {
		return fmt.Errorf("archive root is required")
	}
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("start and end days are required")
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("end day %s precedes start day %s",
			p.End.Format("2006-01-02"), p.Start.Format("2006-01-02"))
	}
	if p.ThresholdSeconds < 0 || p.ThresholdSeconds > archive.DaySeconds {
		return fmt.Errorf("threshold must lie within [0, 86400] seconds, got %g", p.ThresholdSeconds)
	}
	if p.ResumeFrom != nil {
		day := dayStart(*p.ResumeFrom)
		if day.Before(dayStart(p.Start)) || day.After(dayStart(p.End)) {
			return fmt.Errorf("resume day %s outside run window", day.Format("2006-01-02"))
		}
	}
	return nil
}

// Outcome is the terminal value of one synchronization run.
type Outcome struct {
	Success       bool
	Error         string
	PausedAt      *time.Time // day to resume from; nil when fully done
	Bytes         int64
	QuotaExceeded bool
}

// Completed reports whether the run covered every day without pausing.
func (o Outcome) Completed() bool { return o.Success && o.PausedAt == nil }

// Status returns a short human-readable run status.
func (o Outcome) Status() string {
	switch {
	case !o.Success:
		return "error"
	case o.PausedAt == nil:
		return "completed"
	default:
		return "paused"
	}
}

// Runner executes synchronization runs against a set of collaborators.
type Runner struct {
	inventory  Inventory
	status     StatusLookup
	waveforms  WaveformFetcher
	newArchive ArchiveFactory
	logger     *slog.Logger
}

// NewRunner wires a Runner. A nil archive factory opens the default
// filesystem archive.
func NewRunner(inv Inventory, status StatusLookup, wf WaveformFetcher, factory ArchiveFactory, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = func(root string) Archive { return archive.New(root, "", logger) }
	}
	return &Runner{
		inventory:  inv,
		status:     status,
		waveforms:  wf,
		newArchive: factory,
		logger:     logger,
	}
}

// Run performs one synchronization run. Quota exhaustion is an expected
// pause, reported as a successful outcome with QuotaExceeded set; only
// unexpected failures yield Success=false.
func (r *Runner) Run(ctx context.Context, p Params) Outcome {
	if err := p.Validate(); err != nil {
		return Outcome{Error: err.Error()}
	}

	quota := NewQuotaTracker(p.RequestLimit)

	r.logger.Info("synchronization run started",
		"station", p.Station, "channel", p.Channel,
		"start", dayStart(p.Start).Format("2006-01-02"),
		"end", dayStart(p.End).Format("2006-01-02"),
		"threshold_s", p.ThresholdSeconds,
		"request_limit", p.RequestLimit)

	inventory, n, err := r.inventory.FetchChannels(ctx, p.Station, p.Channel)
	quota.Add(n)
	if err != nil {
		if errors.Is(err, client.ErrNoData) {
			return Outcome{Error: "no station information returned", Bytes: quota.Used()}
		}
		return Outcome{Error: err.Error(), Bytes: quota.Used()}
	}

	arch := r.newArchive(p.SDSRoot)

	first := dayStart(p.Start)
	if p.ResumeFrom != nil {
		first = dayStart(*p.ResumeFrom)
	}
	last := dayStart(p.End)

	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		day := day
		outcome, done := r.syncDay(ctx, p, inventory, arch, quota, day)
		if done {
			return outcome
		}

		// Day boundary quota check: stopping here keeps the cursor on
		// the just-finished day so a resumed run re-verifies it cheaply.
		if quota.Exceeded() {
			r.logger.Warn("request limit reached",
				"used", quota.Used(), "limit", quota.Limit(),
				"paused_at", day.Format("2006-01-02"))
			return Outcome{Success: true, QuotaExceeded: true, PausedAt: &day, Bytes: quota.Used()}
		}
	}

	r.logger.Info("synchronization run completed", "bytes", quota.Used())
	return Outcome{Success: true, Bytes: quota.Used()}
}

// syncDay evaluates and, when needed, requests one calendar day. The
// second return value signals that the run must stop with the given
// outcome.
func (r *Runner) syncDay(ctx context.Context, p Params, inventory []message.ChannelRecord, arch Archive, quota *QuotaTracker, day time.Time) (Outcome, bool) {
	eval := newDayEvaluator(day, p, arch, r.status, quota, r.logger)

	var stations, channels []string
	seenStation := map[string]bool{}
	seenChannel := map[string]bool{}

	for _, rec := range inventory {
		if !rec.Active(day) {
			continue
		}

		action, err := eval.evaluate(ctx, rec)
		if err != nil {
			return r.stop(err, quota, day), true
		}
		if action != ActionRequest {
			continue
		}

		if !seenStation[rec.Station] {
			seenStation[rec.Station] = true
			stations = append(stations, rec.Station)
		}
		if !seenChannel[rec.Channel] {
			seenChannel[rec.Channel] = true
			channels = append(channels, rec.Channel)
		}
	}

	if len(stations) == 0 {
		r.logger.Debug("nothing to add", "day", day.Format("2006-01-02"))
		return Outcome{}, false
	}

	r.logger.Info("requesting missing data",
		"day", day.Format("2006-01-02"),
		"stations", stations, "channels", channels)

	segments, n, err := r.waveforms.FetchWaveforms(ctx, stations, channels, day)
	quota.Add(n)
	if err != nil {
		return r.stop(err, quota, day), true
	}

	kept := filterByInventoryRate(segments, inventory, r.logger)
	if len(kept) > 0 {
		if err := arch.Write(kept); err != nil {
			return r.stop(err, quota, day), true
		}
		r.logger.Info("added segments to archive", "day", day.Format("2006-01-02"), "segments", len(kept))
	} else {
		r.logger.Info("no data returned", "day", day.Format("2006-01-02"))
	}

	return Outcome{}, false
}

// stop maps an in-run error onto an outcome at the given day boundary.
func (r *Runner) stop(err error, quota *QuotaTracker, day time.Time) Outcome {
	var quotaErr *client.QuotaError
	if errors.As(err, &quotaErr) {
		r.logger.Warn("daily quota reached, pausing run", "paused_at", day.Format("2006-01-02"))
		return Outcome{Success: true, QuotaExceeded: true, PausedAt: &day, Bytes: quota.Used()}
	}
	r.logger.Error("synchronization run failed", "day", day.Format("2006-01-02"), "error", err)
	return Outcome{Error: err.Error(), PausedAt: &day, Bytes: quota.Used()}
}

// filterByInventoryRate drops returned segments whose sampling rate
// disagrees with the inventory beyond tolerance, so a bad response cannot
// corrupt the archive.
func filterByInventoryRate(segments []archive.Segment, inventory []message.ChannelRecord, logger *slog.Logger) []archive.Segment {
	rates := make(map[string]float64, len(inventory))
	for _, rec := range inventory {
		rates[rec.Station+"."+rec.Channel] = rec.SamplingRate
	}

	kept := segments[:0:0]
	for _, seg := range segments {
		rate, ok := rates[seg.Station+"."+seg.Channel]
		if ok && math.Abs(seg.SamplingRate-rate) > rateTolerance {
			logger.Warn("returned sampling rate does not match inventory, segment dropped",
				"station", seg.Station, "channel", seg.Channel,
				"returned_rate", seg.SamplingRate, "inventory_rate", rate)
			continue
		}
		kept = append(kept, seg)
	}
	return kept
}

// dayStart truncates t to UTC midnight.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
