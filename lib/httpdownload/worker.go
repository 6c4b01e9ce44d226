package httpdownload

import (
	"context"
	"io"
	"net/http"

	"github.com/cenkalti/backoff"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/ratelimit"
	"github.com/gosh-dl/gosh/utils/httputil"
)

// runSegment drives one segment to completion: open, stream through the
// rate limiter, retry transient failures with exponential backoff starting
// at RetryDelay and doubling up to MaxRetryDelay.
func (d *Downloader) runSegment(seg *segment) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.HTTP.RetryDelay
	b.MaxInterval = d.config.HTTP.MaxRetryDelay
	b.MaxElapsedTime = 0 // bounded instead by maxRetries below

	attempt := 0
	err := backoff.Retry(func() error {
		select {
		case <-d.stop:
			return backoff.Permanent(errPaused)
		default:
		}

		err := d.streamSegment(seg)
		if err == nil {
			return nil
		}
		if err == errPaused {
			return backoff.Permanent(err)
		}
		if _, ok := err.(permanentSegmentError); ok {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt >= d.config.HTTP.MaxRetries {
			return backoff.Permanent(err)
		}
		d.logger.Warnw("segment attempt failed, retrying",
			"segment", seg.Index, "attempt", attempt, "error", err)
		return err
	}, b)

	// backoff.Retry returns *backoff.PermanentError as-is rather than
	// unwrapped, so callers comparing against errPaused need the inner error.
	if pe, ok := err.(*backoff.PermanentError); ok {
		return pe.Err
	}
	return err
}

func (d *Downloader) streamSegment(seg *segment) error {
	start := seg.Start + seg.progress()
	headers := withRange(d.headers, start, seg.End)

	resp, err := httputil.Get(d.finalURL,
		httputil.SendHeaders(headers),
		httputil.SendTimeout(d.config.HTTP.ReadTimeout),
		httputil.SendAcceptedCodes(http.StatusOK, http.StatusPartialContent),
	)
	if err != nil {
		if se, ok := err.(httputil.StatusError); ok {
			if se.Status != 408 && se.Status != 429 && se.Status >= 400 && se.Status < 500 {
				return permanentSegmentError{Err: core.NewError(core.ErrHTTPStatus,
					"segment %d: %s", seg.Index, se).WithRecoverable(false)}
			}
		}
		return core.NewError(core.ErrNetwork, "segment %d: %s", seg.Index, err)
	}
	defer resp.Body.Close()

	return d.copyToSegment(seg, start, resp.Body)
}

func (d *Downloader) copyToSegment(seg *segment, absoluteStart int64, body io.Reader) error {
	buf := make([]byte, 32*1024)
	offset := absoluteStart

	for {
		select {
		case <-d.stop:
			return errPaused
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), d.config.HTTP.ReadTimeout)
			acquireErr := d.limiter.Acquire(ctx, d.downloadID, ratelimit.Download, int64(n))
			cancel()
			if acquireErr != nil {
				return core.NewError(core.ErrNetwork, "rate limit wait: %s", acquireErr)
			}

			if err := d.file.writeAt(offset, buf[:n]); err != nil {
				return permanentSegmentError{Err: core.NewError(core.ErrIO, "write segment %d: %s", seg.Index, err)}
			}
			offset += int64(n)
			seg.setProgress(seg.progress() + int64(n))
			d.downloaded.Add(int64(n))
		}

		if readErr == io.EOF {
			if seg.End < 0 {
				seg.markFinished()
			}
			return nil
		}
		if readErr != nil {
			return core.NewError(core.ErrNetwork, "segment %d read: %s", seg.Index, readErr)
		}
	}
}
