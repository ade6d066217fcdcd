// Package client submits request messages through the external
// command-line client and turns its output log into typed results.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/psmsmets/vdmsync/internal/archive"
	"github.com/psmsmets/vdmsync/internal/message"
)

// Output log markers emitted by the command-line client.
const (
	markStatus    = "job status has changed to:"
	markError     = " - ERROR - "
	markData      = "Save retrieved data"
	markNoResults = "Your request did not return any results."
	markRetrieved = "Retrieved"
	markErrorLog  = "ERROR_LOG"
)

// DefaultCommand is the command-line client executable.
const DefaultCommand = "nms_client"

// Client wraps the external command-line client.
type Client struct {
	command string
	logger  *slog.Logger
	probed  bool
}

// New creates a Client using the given executable. An empty command falls
// back to DefaultCommand resolved via PATH.
func New(command string, logger *slog.Logger) *Client {
	if command == "" {
		command = DefaultCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{command: command, logger: logger}
}

// Command returns the configured executable.
func (c *Client) Command() string { return c.command }

// Probe verifies the executable responds to --help. It runs at most once
// per Client; later calls are no-ops after a success.
func (c *Client) Probe(ctx context.Context) error {
	if c.probed {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.command, "--help")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("could not run %q --help (is the client on your PATH?): %w", c.command, err)
	}
	c.probed = true
	return nil
}

// FetchChannels requests the channel inventory for a station/channel
// selection. Returns the parsed records and the bytes transferred.
func (c *Client) FetchChannels(ctx context.Context, station, channel string) ([]message.ChannelRecord, int64, error) {
	req, err := message.New(message.KindChannel, message.Params{Station: station, Channel: channel})
	if err != nil {
		return nil, 0, err
	}

	res, err := c.submit(ctx, req)
	if err != nil {
		return nil, res.bytes, err
	}
	if len(res.files) == 0 {
		return nil, res.bytes, ErrNoData
	}

	records, err := message.ParseChannels(res.files[0])
	if err != nil {
		return nil, res.bytes, &RemoteError{Message: err.Error()}
	}
	if len(records) == 0 {
		return nil, res.bytes, ErrNoData
	}
	return records, res.bytes, nil
}

// FetchStaInfo requests the full station inventory document for a
// station/channel selection and returns the raw SC3XML text.
func (c *Client) FetchStaInfo(ctx context.Context, station, channel string) (string, int64, error) {
	req, err := message.New(message.KindStaInfo, message.Params{Station: station, Channel: channel})
	if err != nil {
		return "", 0, err
	}

	res, err := c.submit(ctx, req)
	if err != nil {
		return "", res.bytes, err
	}
	if len(res.files) == 0 {
		return "", res.bytes, ErrNoData
	}
	return res.files[0], res.bytes, nil
}

// FetchStatus requests the channel availability report for one day.
func (c *Client) FetchStatus(ctx context.Context, station, channel string, day time.Time) ([]message.StatusRow, int64, error) {
	req, err := message.New(message.KindChanStatus, message.Params{
		Station: station,
		Channel: channel,
		Start:   day,
	})
	if err != nil {
		return nil, 0, err
	}

	res, err := c.submit(ctx, req)
	if err != nil {
		return nil, res.bytes, err
	}
	if len(res.files) == 0 {
		return nil, res.bytes, ErrNoData
	}

	var rows []message.StatusRow
	for _, text := range res.files {
		parsed, err := message.ParseChanStatus(text)
		if err != nil {
			return nil, res.bytes, &RemoteError{Message: err.Error()}
		}
		rows = append(rows, parsed...)
	}
	return rows, res.bytes, nil
}

// FetchWaveforms requests waveform data for a coalesced station/channel
// selection covering one day.
func (c *Client) FetchWaveforms(ctx context.Context, stations, channels []string, day time.Time) ([]archive.Segment, int64, error) {
	req, err := message.New(message.KindWaveform, message.Params{
		Station: strings.Join(stations, ","),
		Channel: strings.Join(channels, ","),
		Start:   day,
	})
	if err != nil {
		return nil, 0, err
	}

	res, err := c.submit(ctx, req)
	if err != nil {
		return nil, res.bytes, err
	}

	var segments []archive.Segment
	for _, text := range res.files {
		var part []archive.Segment
		if err := json.Unmarshal([]byte(text), &part); err != nil {
			return nil, res.bytes, &RemoteError{Message: "decoding waveform payload: " + err.Error()}
		}
		segments = append(segments, part...)
	}
	return segments, res.bytes, nil
}

// submission is the scanned outcome of one client invocation.
type submission struct {
	status string
	files  []string // contents of the retrieved result files
	bytes  int64
}

// submit writes the request file into a scratch directory, runs the
// command-line client on it, and scans the combined output for status,
// result and byte-count markers. Quota refusals surface as *QuotaError,
// everything else as *RemoteError.
func (c *Client) submit(ctx context.Context, req *message.Request) (submission, error) {
	var sub submission

	scratch, err := os.MkdirTemp("", "vdmsync-req-")
	if err != nil {
		return sub, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	reqFile := filepath.Join(scratch, req.ID()+".req")
	if err := os.WriteFile(reqFile, []byte(req.Render()), 0o644); err != nil {
		return sub, fmt.Errorf("writing request file: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.command, reqFile, "-f", req.ID()+".tmp", "-d", scratch)
	out, err := cmd.CombinedOutput()
	lines := splitOutput(string(out))
	if err != nil && len(lines) == 0 {
		return sub, fmt.Errorf("running %q: %w", c.command, err)
	}

	c.logger.Debug("client finished", "message", req.Kind().String(), "id", req.ID(), "lines", len(lines))

	sub.bytes = sumRetrieved(lines)

	status, ok := lastAfter(lines, markStatus)
	if !ok {
		return sub, classify(extractError(lines))
	}
	sub.status = strings.ToUpper(status)

	if containsMarker(lines, markNoResults) {
		return sub, nil
	}

	if sub.status != "COMPLETED" {
		if msg, found := firstAfter(lines, markError); found {
			return sub, classify(msg)
		}
		return sub, &RemoteError{Message: "job ended with status " + sub.status}
	}

	for _, line := range lines {
		idx := strings.Index(line, markData)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(markData):]
		_, path, found := strings.Cut(rest, " in ")
		if !found {
			continue
		}
		path = strings.TrimRight(strings.TrimSpace(path), ".")
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("result file missing", "path", path, "error", err)
			continue
		}
		sub.files = append(sub.files, string(data))
	}

	return sub, nil
}

// classify maps an extracted error message onto the quota/remote split.
// The quota check keys on the client's log text; this is the only place
// that text is interpreted.
func classify(msg string) error {
	if strings.Contains(strings.ToLower(msg), "daily quota") {
		return &QuotaError{Message: msg}
	}
	return &RemoteError{Message: msg}
}

// extractError pulls the most relevant error message out of the output
// log: the line following an ERROR_LOG marker when present, otherwise the
// last inline error line.
func extractError(lines []string) string {
	for i, line := range lines {
		if strings.Contains(line, markErrorLog) && i+1 < len(lines) {
			if msg, ok := firstAfter(lines[i+1:], markError); ok {
				return msg
			}
		}
	}
	if msg, ok := lastAfter(lines, markError); ok {
		return msg
	}
	return "no job status reported"
}

func splitOutput(out string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func containsMarker(lines []string, marker string) bool {
	for _, line := range lines {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// firstAfter returns the trimmed text following the first occurrence of
// marker in lines.
func firstAfter(lines []string, marker string) (string, bool) {
	for _, line := range lines {
		if idx := strings.Index(line, marker); idx >= 0 {
			return strings.TrimSpace(line[idx+len(marker):]), true
		}
	}
	return "", false
}

// lastAfter returns the trimmed text following the last occurrence of
// marker in lines.
func lastAfter(lines []string, marker string) (string, bool) {
	msg, ok := "", false
	for _, line := range lines {
		if idx := strings.Index(line, marker); idx >= 0 {
			msg, ok = strings.TrimSpace(line[idx+len(marker):]), true
		}
	}
	return msg, ok
}

// sumRetrieved totals the byte counts of all "Retrieved <n> ..." lines.
func sumRetrieved(lines []string) int64 {
	var total int64
	for _, line := range lines {
		idx := strings.Index(line, markRetrieved)
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len(markRetrieved):])
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}
