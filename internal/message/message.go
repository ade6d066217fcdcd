// Package message builds IMS2.0 request messages for the remote data
// service and parses the fixed-width text products it returns.
package message

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a request message type. The set is closed: constructing
// a message goes through New, never through reflection or name lookup.
type Kind int

const (
	KindChannel Kind = iota
	KindChanStatus
	KindWaveform
	KindStaInfo
)

// String returns the wire name of the message kind.
func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "CHANNEL"
	case KindChanStatus:
		return "CHAN_STATUS"
	case KindWaveform:
		return "WAVEFORM"
	case KindStaInfo:
		return "STA_INFO"
	default:
		return "UNKNOWN"
	}
}

// Params carries the request parameters shared by all message kinds.
// Start/End are ignored by kinds without a time window (CHANNEL, STA_INFO).
type Params struct {
	Station string
	Channel string
	Start   time.Time
	End     time.Time
	ID      string // optional custom message id, slugified to max 22 chars
}

// Request is a fully-specified request message ready to be rendered.
type Request struct {
	kind    Kind
	id      string
	station string
	channel string
	start   time.Time
	end     time.Time
	format  string
}

// New constructs a request message of the given kind.
// Day-granular kinds expand a missing end time to start + 24h.
func New(kind Kind, p Params) (*Request, error) {
	r := &Request{
		kind:    kind,
		station: canonList(p.Station),
		channel: canonList(p.Channel),
	}

	if p.ID != "" {
		r.id = slug(p.ID, 22)
	} else {
		r.id = token(10)
	}

	switch kind {
	case KindChannel:
		// metadata requests carry no time window

	case KindStaInfo:
		// full inventory documents come back as SC3XML
		r.format = "sc3xml"

	case KindChanStatus:
		if p.Start.IsZero() {
			return nil, fmt.Errorf("message %s: start time required", kind)
		}
		r.start = dayStart(p.Start)
		if p.End.IsZero() || !p.End.After(p.Start) {
			r.end = r.start.Add(24 * time.Hour)
		} else {
			r.end = dayStart(p.End)
		}

	case KindWaveform:
		if p.Start.IsZero() {
			return nil, fmt.Errorf("message %s: start time required", kind)
		}
		r.start = dayStart(p.Start)
		if p.End.IsZero() || !p.End.After(p.Start) {
			r.end = r.start.Add(24*time.Hour - time.Millisecond)
		} else {
			r.end = p.End
		}
		r.format = "MS_ST2_512"

	default:
		return nil, fmt.Errorf("unknown message kind %d", kind)
	}

	return r, nil
}

// Kind returns the message kind.
func (r *Request) Kind() Kind { return r.kind }

// ID returns the message id used to correlate request and response files.
func (r *Request) ID() string { return r.id }

// Station returns the canonical comma-separated station list.
func (r *Request) Station() string { return r.station }

// Channel returns the canonical comma-separated channel list.
func (r *Request) Channel() string { return r.channel }

// Render returns the formatted request message text.
func (r *Request) Render() string {
	var b strings.Builder
	b.WriteString("BEGIN IMS2.0\n")
	b.WriteString("MSG_TYPE REQUEST\n")
	fmt.Fprintf(&b, "MSG_ID %s\n", r.id)
	for _, p := range r.params() {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	b.WriteString(r.typeLine())
	b.WriteString("\nSTOP")
	return b.String()
}

// params returns the per-kind parameter lines, uppercased per the wire format.
func (r *Request) params() []string {
	var out []string
	switch r.kind {
	case KindChannel, KindStaInfo:
		out = append(out, "STA_LIST "+r.station)
		out = append(out, "CHAN_LIST "+r.channel)
	case KindChanStatus:
		out = append(out, "STA_LIST "+r.station)
		out = append(out, "CHAN_LIST "+r.channel)
		out = append(out, fmt.Sprintf("TIME %s to %s",
			r.start.UTC().Format("2006/01/02"),
			r.end.UTC().Format("2006/01/02")))
	case KindWaveform:
		out = append(out, fmt.Sprintf("TIME %s to %s",
			r.start.UTC().Format("2006-01-02 15:04:05.000"),
			r.end.UTC().Format("2006-01-02 15:04:05.000")))
		out = append(out, "STA_LIST "+r.station)
		out = append(out, "CHAN_LIST "+r.channel)
	}
	for i := range out {
		out[i] = strings.ToUpper(out[i])
	}
	return out
}

// typeLine renders the DATA_TYPE request line, e.g. "WAVEFORM IMS2.0:MS_ST2_512".
func (r *Request) typeLine() string {
	if r.format != "" {
		return fmt.Sprintf("%s IMS2.0:%s", r.kind, strings.ToUpper(r.format))
	}
	return fmt.Sprintf("%s IMS2.0", r.kind)
}

// canonList strips whitespace from a comma-separated code list.
// An empty list selects everything.
func canonList(v string) string {
	if v == "" {
		return "*"
	}
	var fields []string
	for _, f := range strings.Split(v, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return "*"
	}
	return strings.Join(fields, ",")
}

// token returns a random hex token of 2*n characters.
func token(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(buf)
}

// slug lowercases s, replaces runs of non-alphanumerics with underscores,
// and truncates to max characters.
func slug(s string, max int) string {
	var b strings.Builder
	prev := false
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('_')
			}
			prev = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// dayStart truncates t to UTC midnight.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
