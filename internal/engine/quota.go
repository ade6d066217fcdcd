package engine

// QuotaTracker accumulates bytes transferred across the requests of one
// synchronization run and enforces an optional ceiling.
type QuotaTracker struct {
	limit int64
	used  int64
}

// NewQuotaTracker creates a tracker with the given ceiling in bytes.
// A zero or negative limit disables enforcement.
func NewQuotaTracker(limit int64) *QuotaTracker {
	return &QuotaTracker{limit: limit}
}

// Add charges n bytes against the tracker.
func (q *QuotaTracker) Add(n int64) {
	if n > 0 {
		q.used += n
	}
}

// Used returns the total bytes charged so far.
func (q *QuotaTracker) Used() int64 { return q.used }

// Limit returns the configured ceiling, 0 when unlimited.
func (q *QuotaTracker) Limit() int64 {
	if q.limit <= 0 {
		return 0
	}
	return q.limit
}

// Exceeded reports whether the accumulated total meets or exceeds the
// ceiling. Always false when no ceiling is set.
func (q *QuotaTracker) Exceeded() bool {
	return q.limit > 0 && q.used >= q.limit
}
