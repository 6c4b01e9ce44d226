package httpdownload

import "errors"

// errPaused signals a segment worker that Pause was called; it unwinds the
// retry loop without being treated as a download failure.
var errPaused = errors.New("httpdownload: paused")

// permanentSegmentError wraps a *core.Error that must not be retried (a
// non-recoverable HTTP status, or a local I/O failure), so runSegment's
// backoff.Retry stops immediately instead of burning through MaxRetries.
type permanentSegmentError struct {
	Err error
}

func (e permanentSegmentError) Error() string { return e.Err.Error() }
func (e permanentSegmentError) Unwrap() error { return e.Err }
