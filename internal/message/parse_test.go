package message

import (
	"strings"
	"testing"
)

// fixedRow builds a fixed-width response row by placing values at the
// given column offsets.
func fixedRow(width int, fields map[[2]int]string) string {
	row := []byte(strings.Repeat(" ", width))
	for col, value := range fields {
		copy(row[col[0]:], value)
	}
	return string(row)
}

func channelResponse(rows ...string) string {
	lines := []string{
		"BEGIN IMS2.0",
		"MSG_TYPE DATA",
		"MSG_ID 12345",
		"DATA_TYPE CHANNEL IMS2.0",
		"",
		"Net       Sta   Chan Aux   Latitude Longitude",
		"",
	}
	lines = append(lines, rows...)
	lines = append(lines, "STOP")
	return strings.Join(lines, "\n")
}

func TestParseChannels(t *testing.T) {
	active := fixedRow(126, map[[2]int]string{
		channelCols.network:      "IM",
		channelCols.station:      "I18H1",
		channelCols.channel:      "BDF",
		channelCols.samplingRate: "20.000000",
		channelCols.onDate:       "2003/04/01",
	})
	closed := fixedRow(126, map[[2]int]string{
		channelCols.station:      "I18H2",
		channelCols.channel:      "BDF",
		channelCols.samplingRate: "20.000000",
		channelCols.onDate:       "2003/04/01",
		channelCols.offDate:      "2010/06/30",
	})

	records, err := ParseChannels(channelResponse(active, closed))
	if err != nil {
		t.Fatalf("ParseChannels: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("parsed %d records, want 2", len(records))
	}

	first := records[0]
	if first.Network != "IM" || first.Station != "I18H1" || first.Channel != "BDF" {
		t.Errorf("first record = %+v", first)
	}
	if first.SamplingRate != 20 {
		t.Errorf("sampling rate = %g, want 20", first.SamplingRate)
	}
	if first.OffDate != nil {
		t.Error("active channel must have no off date")
	}
	if !first.Active(day("2020-01-15")) {
		t.Error("active channel reported inactive")
	}

	second := records[1]
	if second.Network != "IM" {
		t.Errorf("empty network column must default to IM, got %q", second.Network)
	}
	if second.OffDate == nil {
		t.Fatal("closed channel lost its off date")
	}
	if second.Active(day("2020-01-15")) {
		t.Error("closed channel reported active")
	}
	if !second.Active(day("2005-01-01")) {
		t.Error("channel inactive within its span")
	}
}

func TestParseChannelsTooShort(t *testing.T) {
	if _, err := ParseChannels("BEGIN IMS2.0\nSTOP"); err == nil {
		t.Error("truncated response must fail")
	}
}

func TestParseChanStatus(t *testing.T) {
	row := fixedRow(60, map[[2]int]string{
		statusCols.station: "I18H1",
		statusCols.channel: "BDF",
		statusCols.gaps:    "3",
		statusCols.samples: "1345600",
	})

	lines := []string{
		"BEGIN IMS2.0",
		"MSG_TYPE DATA",
		"MSG_ID 12345",
		"DATA_TYPE CHAN_STATUS IMS2.0",
		"Report period from 2020/01/15 00:00:00.0 to 2020/01/16 00:00:00.0",
		"",
		"Net       Sta   Chan",
		"",
		"",
		row,
		"STOP",
	}

	rows, err := ParseChanStatus(strings.Join(lines, "\n"))
	if err != nil {
		t.Fatalf("ParseChanStatus: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("parsed %d rows, want 1", len(rows))
	}

	got := rows[0]
	if got.Station != "I18H1" || got.Channel != "BDF" {
		t.Errorf("row = %+v", got)
	}
	if got.Gaps != 3 {
		t.Errorf("gaps = %d, want 3", got.Gaps)
	}
	if got.Samples != 1345600 {
		t.Errorf("samples = %d, want 1345600", got.Samples)
	}
	if !got.Date.Equal(day("2020-01-15")) {
		t.Errorf("date = %v, want 2020-01-15", got.Date)
	}
}

func TestParseChanStatusMissingPeriod(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN IMS2.0", "a", "b", "c", "d", "e", "f", "g", "h", "data", "STOP",
	}, "\n")
	if _, err := ParseChanStatus(text); err == nil {
		t.Error("response without a report period must fail")
	}
}
