package client

import "errors"

// ErrNoData indicates the service completed the request but returned no
// usable data.
var ErrNoData = errors.New("no data returned")

// QuotaError indicates the service refused the request because the daily
// request quota is exhausted. Callers treat it as an expected pause, not
// a failure.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	if e.Message == "" {
		return "daily request quota exceeded"
	}
	return "quota exceeded: " + e.Message
}

// RemoteError is any non-quota failure reported by the command-line client.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote request failed: " + e.Message
}
