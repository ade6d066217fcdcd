// Package archive stores downloaded waveform segments in an SDS-style
// directory tree, one file per network/station/channel/day.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Segment is a contiguous run of samples for one channel.
type Segment struct {
	Network      string    `json:"network"`
	Station      string    `json:"station"`
	Channel      string    `json:"channel"`
	Start        time.Time `json:"start"`
	SamplingRate float64   `json:"sampling_rate"`
	Samples      []float64 `json:"samples"`
}

// Seconds returns the segment duration derived from its sample count.
func (s Segment) Seconds() float64 {
	if s.SamplingRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / s.SamplingRate
}

// DaySeconds is the coverage target for a full archive day.
const DaySeconds = 86400.0

// Archive reads and writes per-day segment files under a root directory.
type Archive struct {
	root    string
	network string
	logger  *slog.Logger
}

// New creates an Archive rooted at root. The directory is not required to
// exist yet; it is created on first write.
func New(root, network string, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	if network == "" {
		network = "IM"
	}
	return &Archive{root: root, network: network, logger: logger}
}

// Root returns the archive root directory.
func (a *Archive) Root() string { return a.root }

// dayPath returns the file path for one channel-day, following the SDS
// layout <root>/<year>/<net>/<sta>/<chan>.D/<net>.<sta>..<chan>.D.<year>.<doy>.
func (a *Archive) dayPath(station, channel string, day time.Time) string {
	day = day.UTC()
	year := day.Format("2006")
	doy := fmt.Sprintf("%03d", day.YearDay())
	name := fmt.Sprintf("%s.%s..%s.D.%s.%s", a.network, station, channel, year, doy)
	return filepath.Join(a.root, year, a.network, station, channel+".D", name)
}

// Availability returns the fraction of the day covered by archived samples,
// clamped to [0, 1]. A missing day file yields 0.
func (a *Archive) Availability(station, channel string, day time.Time) (float64, error) {
	segments, err := a.Read(station, channel, day)
	if err != nil {
		return 0, err
	}

	var seconds float64
	for _, seg := range segments {
		seconds += seg.Seconds()
	}

	frac := seconds / DaySeconds
	if frac > 1 {
		frac = 1
	}
	return frac, nil
}

// Read returns the archived segments for one channel-day, ordered by start
// time. A missing day file yields an empty result, not an error.
func (a *Archive) Read(station, channel string, day time.Time) ([]Segment, error) {
	path := a.dayPath(station, channel, day)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading archive day %s: %w", path, err)
	}

	var segments []Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("decoding archive day %s: %w", path, err)
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Start.Before(segments[j].Start)
	})
	return segments, nil
}

// Write merges segments into their day files, grouped by channel and day.
// Existing content is kept and the merged file is sorted by start time.
func (a *Archive) Write(segments []Segment) error {
	groups := make(map[string][]Segment)
	order := []string{}
	for _, seg := range segments {
		key := a.dayPath(seg.Station, seg.Channel, seg.Start)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], seg)
	}

	for _, path := range order {
		day := groups[path]

		existing, err := a.Read(day[0].Station, day[0].Channel, day[0].Start)
		if err != nil {
			return err
		}
		day = append(existing, day...)

		sort.Slice(day, func(i, j int) bool { return day[i].Start.Before(day[j].Start) })

		if err := a.writeDay(path, day); err != nil {
			return err
		}
	}

	return nil
}

// WriteDay replaces one channel-day file with exactly the given segments.
// An empty slice empties the day file, discarding whatever was archived.
func (a *Archive) WriteDay(station, channel string, day time.Time, segments []Segment) error {
	if segments == nil {
		segments = []Segment{}
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start.Before(segments[j].Start) })
	return a.writeDay(a.dayPath(station, channel, day), segments)
}

// writeDay writes one day file atomically (write-temp-then-rename).
func (a *Archive) writeDay(path string, segments []Segment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	data, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("encoding archive day: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing archive day: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing archive day: %w", err)
	}

	a.logger.Debug("archive day written", "path", path, "segments", len(segments))
	return nil
}
