package jobber

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// jobRecord is the on-disk shape of a job in the queue file. Field order
// matters: the queue content hash is computed over the canonical encoding
// of these records.
type jobRecord struct {
	ID           string         `json:"id"`
	Starttime    string         `json:"starttime"`
	Endtime      string         `json:"endtime"`
	Time         *string        `json:"time"`
	Station      string         `json:"station"`
	Channel      string         `json:"channel"`
	SDSRoot      string         `json:"sds_root"`
	Priority     int            `json:"priority"`
	RequestLimit *string        `json:"request_limit"`
	User         string         `json:"user"`
	Client       string         `json:"client"`
	ClientKwargs map[string]any `json:"client_kwargs"`
	Status       []StatusEntry  `json:"status"`
}

const dayLayout = "2006-01-02"

func (j *Job) record() jobRecord {
	r := jobRecord{
		ID:           j.id,
		Starttime:    j.start.Format(dayLayout),
		Endtime:      j.end.Format(dayLayout),
		Station:      j.station,
		Channel:      j.channel,
		SDSRoot:      j.sdsRoot,
		Priority:     j.priority,
		User:         j.user,
		Client:       j.client,
		ClientKwargs: j.clientKwargs,
		Status:       j.status.Entries(),
	}
	if j.cursor != nil {
		s := j.cursor.Format(dayLayout)
		r.Time = &s
	}
	if j.requestLimit > 0 {
		// humanize.Bytes rounds; keep the readable form only when it
		// parses back to the exact limit.
		s := humanize.Bytes(uint64(j.requestLimit))
		if n, err := humanize.ParseBytes(s); err != nil || int64(n) != j.requestLimit {
			s = strconv.FormatInt(j.requestLimit, 10)
		}
		r.RequestLimit = &s
	}
	return r
}

func jobFromRecord(r jobRecord) (*Job, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("job record without id")
	}
	start, err := parseDay(r.Starttime)
	if err != nil {
		return nil, fmt.Errorf("job %s: starttime: %w", r.ID, err)
	}
	end, err := parseDay(r.Endtime)
	if err != nil {
		return nil, fmt.Errorf("job %s: endtime: %w", r.ID, err)
	}

	j := &Job{
		id:           r.ID,
		start:        start,
		end:          end,
		station:      r.Station,
		channel:      r.Channel,
		sdsRoot:      r.SDSRoot,
		priority:     r.Priority,
		user:         r.User,
		client:       r.Client,
		clientKwargs: r.ClientKwargs,
	}
	if r.Time != nil {
		cursor, err := parseDay(*r.Time)
		if err != nil {
			return nil, fmt.Errorf("job %s: time: %w", r.ID, err)
		}
		j.cursor = &cursor
	}
	if r.RequestLimit != nil && *r.RequestLimit != "" {
		n, err := humanize.ParseBytes(*r.RequestLimit)
		if err != nil {
			return nil, fmt.Errorf("job %s: request_limit: %w", r.ID, err)
		}
		j.requestLimit = int64(n)
	}
	j.status.entries = append([]StatusEntry(nil), r.Status...)
	if j.status.Len() == 0 {
		// queue files written by older tools may lack history
		j.status.entries = append(j.status.entries, StatusEntry{
			Time: time.Now().UTC(), Code: StatusPending,
		})
	}
	return j, nil
}
