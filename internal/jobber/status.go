package jobber

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusCode is a job lifecycle state as stored in the queue file.
type StatusCode string

const (
	StatusPending    StatusCode = "JOB_PENDING"
	StatusCheck      StatusCode = "JOB_CHECK"
	StatusReady      StatusCode = "JOB_READY"
	StatusScheduled  StatusCode = "JOB_SCHEDULED"
	StatusProcessing StatusCode = "JOB_PROCESSING"
	StatusError      StatusCode = "JOB_ERROR"
	StatusCancelled  StatusCode = "JOB_CANCELLED"
	StatusCompleted  StatusCode = "JOB_COMPLETED"
)

var statusNames = map[StatusCode]string{
	StatusPending:    "Pending",
	StatusCheck:      "Check",
	StatusReady:      "Ready",
	StatusScheduled:  "Scheduled",
	StatusProcessing: "Processing",
	StatusError:      "Error",
	StatusCancelled:  "Cancelled",
	StatusCompleted:  "Completed",
}

// Valid reports whether the code is one of the known lifecycle states.
func (c StatusCode) Valid() bool {
	_, ok := statusNames[c]
	return ok
}

// Name returns the human-readable state name, e.g. "Scheduled".
func (c StatusCode) Name() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return string(c)
}

// Terminal reports whether the state is absorbing. Error is terminal for
// automatic scheduling but can be left through an explicit manual reset.
func (c StatusCode) Terminal() bool {
	return c == StatusCompleted || c == StatusCancelled || c == StatusError
}

// statusTimeLayout is the timestamp spelling used inside the queue file.
const statusTimeLayout = "2006-01-02T15:04:05.000000Z"

// StatusEntry is one timestamped state transition.
type StatusEntry struct {
	Time time.Time
	Code StatusCode
}

// MarshalJSON encodes the entry as a ["timestamp", "code"] pair.
func (e StatusEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Time.UTC().Format(statusTimeLayout), string(e.Code)})
}

// UnmarshalJSON decodes a ["timestamp", "code"] pair.
func (e *StatusEntry) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("status entry: %w", err)
	}
	t, err := time.Parse(statusTimeLayout, pair[0])
	if err != nil {
		return fmt.Errorf("status entry timestamp: %w", err)
	}
	code := StatusCode(pair[1])
	if !code.Valid() {
		return fmt.Errorf("illegal status code %q", pair[1])
	}
	e.Time = t
	e.Code = code
	return nil
}

// StatusLog is the append-only audit trail of a job's state transitions.
// Entries are never removed or rewritten.
type StatusLog struct {
	entries []StatusEntry
}

// Append records a transition into the given state at the current time.
func (l *StatusLog) Append(code StatusCode) error {
	if !code.Valid() {
		return fmt.Errorf("illegal status code %q", code)
	}
	l.entries = append(l.entries, StatusEntry{Time: time.Now().UTC(), Code: code})
	return nil
}

// Len returns the number of recorded transitions.
func (l *StatusLog) Len() int { return len(l.entries) }

// Current returns the most recent state, or StatusPending for an empty log.
func (l *StatusLog) Current() StatusCode {
	if len(l.entries) == 0 {
		return StatusPending
	}
	return l.entries[len(l.entries)-1].Code
}

// Last returns the most recent entry.
func (l *StatusLog) Last() (StatusEntry, bool) {
	if len(l.entries) == 0 {
		return StatusEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Has reports whether any of the given states appears anywhere in the log.
func (l *StatusLog) Has(codes ...StatusCode) bool {
	for _, entry := range l.entries {
		for _, code := range codes {
			if entry.Code == code {
				return true
			}
		}
	}
	return false
}

// Entries returns a copy of the full transition history, oldest first.
func (l *StatusLog) Entries() []StatusEntry {
	out := make([]StatusEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// MarshalJSON encodes the log as an ordered array of [timestamp, code] pairs.
func (l StatusLog) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes an ordered array of [timestamp, code] pairs.
func (l *StatusLog) UnmarshalJSON(data []byte) error {
	var entries []StatusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}
