package message

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChannelRecord is one station/channel's metadata for a time span.
// A nil OffDate means the channel is still active.
type ChannelRecord struct {
	Network      string
	Station      string
	Channel      string
	SamplingRate float64
	OnDate       time.Time
	OffDate      *time.Time
}

// Active reports whether the channel is in scope for the given day:
// OnDate <= day and (OffDate is unset or OffDate > day).
func (c ChannelRecord) Active(day time.Time) bool {
	day = dayStart(day)
	if day.Before(dayStart(c.OnDate)) {
		return false
	}
	return c.OffDate == nil || dayStart(*c.OffDate).After(day)
}

// StatusRow is one channel's availability report for one day.
type StatusRow struct {
	Station string
	Channel string
	Gaps    int
	Samples int64
	Date    time.Time
}

// CHANNEL response column offsets (byte ranges within a data row).
var channelCols = struct {
	network, station, channel, samplingRate, onDate, offDate [2]int
}{
	network:      [2]int{0, 9},
	station:      [2]int{10, 15},
	channel:      [2]int{16, 19},
	samplingRate: [2]int{84, 95},
	onDate:       [2]int{103, 113},
	offDate:      [2]int{114, 125},
}

// CHAN_STATUS response column offsets.
var statusCols = struct {
	station, channel, gaps, samples [2]int
}{
	station: [2]int{10, 15},
	channel: [2]int{16, 19},
	gaps:    [2]int{45, 50},
	samples: [2]int{51, 60},
}

// channelHeaderLines is the size of the preamble (message envelope plus
// column header) preceding CHANNEL data rows.
const channelHeaderLines = 7

// statusHeaderLines is the size of the preamble preceding CHAN_STATUS
// data rows.
const statusHeaderLines = 9

// ParseChannels parses a fixed-width CHANNEL response into an ordered
// sequence of channel records. Rows without a station code are skipped;
// an empty network column defaults to IM.
func ParseChannels(text string) ([]ChannelRecord, error) {
	lines := trimResponse(splitLines(text), channelHeaderLines)
	if lines == nil {
		return nil, fmt.Errorf("channel response too short")
	}

	var records []ChannelRecord
	for _, line := range lines {
		station := cut(line, channelCols.station)
		channel := cut(line, channelCols.channel)
		if station == "" || channel == "" {
			continue
		}

		rate, err := strconv.ParseFloat(cut(line, channelCols.samplingRate), 64)
		if err != nil {
			return nil, fmt.Errorf("channel %s.%s: bad sampling rate: %w", station, channel, err)
		}

		onDate, err := parseDate(cut(line, channelCols.onDate))
		if err != nil {
			return nil, fmt.Errorf("channel %s.%s: bad on date: %w", station, channel, err)
		}

		rec := ChannelRecord{
			Network:      cut(line, channelCols.network),
			Station:      station,
			Channel:      channel,
			SamplingRate: rate,
			OnDate:       onDate,
		}
		if rec.Network == "" {
			rec.Network = "IM"
		}

		if raw := cut(line, channelCols.offDate); raw != "" {
			offDate, err := parseDate(raw)
			if err != nil {
				return nil, fmt.Errorf("channel %s.%s: bad off date: %w", station, channel, err)
			}
			rec.OffDate = &offDate
		}

		records = append(records, rec)
	}

	return records, nil
}

// ParseChanStatus parses a fixed-width CHAN_STATUS response. The report
// date is taken from the "Report period from" header line and attached to
// every row.
func ParseChanStatus(text string) ([]StatusRow, error) {
	all := splitLines(text)

	var date time.Time
	for _, line := range all {
		if idx := strings.Index(line, "Report period from"); idx >= 0 {
			rest := strings.Fields(line[idx+len("Report period from"):])
			if len(rest) == 0 {
				return nil, fmt.Errorf("status response: empty report period")
			}
			d, err := parseDate(rest[0])
			if err != nil {
				return nil, fmt.Errorf("status response: bad report period: %w", err)
			}
			date = d
			break
		}
	}
	if date.IsZero() {
		return nil, fmt.Errorf("status response: report period not found")
	}

	lines := trimResponse(all, statusHeaderLines)
	if lines == nil {
		return nil, fmt.Errorf("status response too short")
	}

	var rows []StatusRow
	for _, line := range lines {
		station := cut(line, statusCols.station)
		channel := cut(line, statusCols.channel)
		if station == "" || channel == "" {
			continue
		}

		row := StatusRow{Station: station, Channel: channel, Date: date}

		if raw := cut(line, statusCols.gaps); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("status %s.%s: bad gap count: %w", station, channel, err)
			}
			row.Gaps = n
		}
		if raw := cut(line, statusCols.samples); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("status %s.%s: bad sample count: %w", station, channel, err)
			}
			row.Samples = n
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// trimResponse drops the header preamble and the trailing footer line.
// Returns nil if the response is too short to contain data rows.
func trimResponse(lines []string, header int) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= header+1 {
		return nil
	}
	return lines[header : len(lines)-1]
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// cut extracts and trims the byte range col from line, tolerating short lines.
func cut(line string, col [2]int) string {
	if col[0] >= len(line) {
		return ""
	}
	end := col[1]
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[col[0]:end])
}

// parseDate accepts the date spellings seen in service responses.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006/01/02", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
