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

// DayAction is the per-channel decision for one synchronization day.
type DayAction int

const (
	// ActionSkip leaves the channel alone: local coverage is sufficient.
	ActionSkip DayAction = iota
	// ActionRequest includes the channel in the day's waveform request.
	ActionRequest
)

func (a DayAction) String() string {
	if a == ActionRequest {
		return "request"
	}
	return "skip"
}

// rateTolerance is the sampling-rate equality tolerance in Hz. Archive
// segments further off the inventory rate are dropped and the day file
// rewritten.
const rateTolerance = 0.01

// dayEvaluator decides, channel by channel, whether one calendar day needs
// a waveform request. The remote status report is fetched at most once per
// day, shared across all channels evaluated that day.
type dayEvaluator struct {
	day       time.Time
	threshold float64
	verify    bool

	archive Archive
	status  StatusLookup
	quota   *QuotaTracker
	logger  *slog.Logger

	fetched     bool
	statusFault bool
	samples     map[string]int64 // "STA.CHAN" -> reported sample count
}

func newDayEvaluator(day time.Time, p Params, arch Archive, status StatusLookup, quota *QuotaTracker, logger *slog.Logger) *dayEvaluator {
	return &dayEvaluator{
		day:       day,
		threshold: p.ThresholdSeconds,
		verify:    p.VerifyArchive,
		archive:   arch,
		status:    status,
		quota:     quota,
		logger:    logger,
	}
}

// evaluate returns the action for one channel on the evaluator's day.
// Archive errors are unrecoverable for the day and propagate; a failed or
// empty status lookup degrades to the threshold-only fallback. Quota
// refusals raised by the status lookup propagate so the run can pause.
func (e *dayEvaluator) evaluate(ctx context.Context, rec message.ChannelRecord) (DayAction, error) {
	frac, err := e.archive.Availability(rec.Station, rec.Channel, e.day)
	if err != nil {
		return ActionSkip, fmt.Errorf("archive availability %s.%s: %w", rec.Station, rec.Channel, err)
	}

	e.logger.Debug("archive coverage",
		"station", rec.Station, "channel", rec.Channel,
		"day", e.day.Format("2006-01-02"), "fraction", frac)

	if frac >= 1 {
		return ActionSkip, nil
	}
	if frac <= 0 {
		return ActionRequest, nil
	}

	archivedSeconds := frac * archive.DaySeconds
	if e.verify {
		seconds, err := e.verifyDay(rec)
		if err != nil {
			return ActionSkip, err
		}
		archivedSeconds = seconds
		if archivedSeconds <= 0 {
			return ActionRequest, nil
		}
	}

	remoteSeconds, known, err := e.remoteSeconds(ctx, rec)
	if err != nil {
		var quotaErr *client.QuotaError
		if errors.As(err, &quotaErr) {
			return ActionSkip, err
		}
		known = false
	}

	if !known {
		// Threshold-only fallback: request when the local gap is at
		// least the threshold.
		if archive.DaySeconds-archivedSeconds >= e.threshold {
			return ActionRequest, nil
		}
		return ActionSkip, nil
	}

	if remoteSeconds > archivedSeconds || remoteSeconds-archivedSeconds >= e.threshold {
		return ActionRequest, nil
	}
	return ActionSkip, nil
}

// verifyDay drops archived segments whose sampling rate disagrees with the
// inventory beyond tolerance, rewriting the day file when anything was
// dropped. Returns the archived seconds after the sweep.
func (e *dayEvaluator) verifyDay(rec message.ChannelRecord) (float64, error) {
	segments, err := e.archive.Read(rec.Station, rec.Channel, e.day)
	if err != nil {
		return 0, fmt.Errorf("archive read %s.%s: %w", rec.Station, rec.Channel, err)
	}

	kept := segments[:0:0]
	var seconds float64
	for _, seg := range segments {
		if math.Abs(seg.SamplingRate-rec.SamplingRate) > rateTolerance {
			e.logger.Warn("archived sampling rate inconsistent with inventory, segment removed",
				"station", rec.Station, "channel", rec.Channel,
				"archived_rate", seg.SamplingRate, "inventory_rate", rec.SamplingRate)
			continue
		}
		kept = append(kept, seg)
		seconds += seg.Seconds()
	}

	if len(kept) != len(segments) {
		if err := e.archive.WriteDay(rec.Station, rec.Channel, e.day, kept); err != nil {
			return 0, fmt.Errorf("rewriting archive day %s.%s: %w", rec.Station, rec.Channel, err)
		}
	}

	return seconds, nil
}

// remoteSeconds returns the service-reported coverage for the channel in
// seconds. The underlying status report is fetched once per day; the first
// failure marks the whole day as status-less.
func (e *dayEvaluator) remoteSeconds(ctx context.Context, rec message.ChannelRecord) (float64, bool, error) {
	if !e.fetched {
		e.fetched = true
		e.logger.Info("requesting channel status", "day", e.day.Format("2006-01-02"))

		rows, n, err := e.status.FetchStatus(ctx, statusSelection(rec.Station), "*", e.day)
		e.quota.Add(n)
		if err != nil {
			e.statusFault = true
			var quotaErr *client.QuotaError
			if errors.As(err, &quotaErr) {
				return 0, false, err
			}
			e.logger.Warn("status request failed, falling back to threshold", "error", err)
			return 0, false, nil
		}

		e.samples = make(map[string]int64, len(rows))
		for _, row := range rows {
			if row.Samples > 0 {
				e.samples[row.Station+"."+row.Channel] += row.Samples
			}
		}
	}

	if e.statusFault || e.samples == nil {
		return 0, false, nil
	}

	samples, ok := e.samples[rec.Station+"."+rec.Channel]
	if !ok || rec.SamplingRate <= 0 {
		return 0, false, nil
	}
	return float64(samples) / rec.SamplingRate, true, nil
}

// statusSelection widens a station code to its site prefix so one status
// request covers all elements of an array station.
func statusSelection(station string) string {
	if len(station) > 3 {
		return station[:3] + "*"
	}
	return station + "*"
}
