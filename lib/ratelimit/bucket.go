package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gosh-dl/gosh/core"
)

// downloadBucket holds the optional per-download token-bucket caps supplied
// via DownloadOptions. A nil *rate.Limiter field means "no per-download cap
// for this direction" — only the global bucket and the admission wheel
// apply.
type downloadBucket struct {
	id       core.DownloadID
	priority core.DownloadPriority

	download *rate.Limiter
	upload   *rate.Limiter
}

func newDownloadBucket(id core.DownloadID, priority core.DownloadPriority, maxDownloadBps, maxUploadBps *int64, minBurst int64) *downloadBucket {
	return &downloadBucket{
		id:       id,
		priority: priority,
		download: limiterFor(maxDownloadBps, minBurst),
		upload:   limiterFor(maxUploadBps, minBurst),
	}
}

func limiterFor(bps *int64, minBurst int64) *rate.Limiter {
	if bps == nil {
		return nil
	}
	burst := *bps
	if burst < minBurst {
		burst = minBurst
	}
	return rate.NewLimiter(rate.Limit(*bps), int(burst))
}

func (b *downloadBucket) limiterForDirection(dir Direction) *rate.Limiter {
	if dir == Upload {
		return b.upload
	}
	return b.download
}

// waiter is one pending Acquire call admitted into a priority band's FIFO
// queue. turn is closed by the wheel goroutine when it is this waiter's
// turn to proceed.
type waiter struct {
	turn chan struct{}
}

// wheel is a strict-priority admission gate with 4 bands matching
// core.DownloadPriority: the wheel always serves the highest non-empty
// band, and FIFO order within a band — since distinct Acquire calls from
// the same or different downloads each enqueue their own waiter — yields
// round-robin fairness among same-priority downloads without starving any
// one of them.
type wheel struct {
	mu    sync.Mutex
	bands [4][]*waiter

	notify chan struct{}

	closed bool
	done   chan struct{}
}

func newWheel() *wheel {
	w := &wheel{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *wheel) run() {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		next := w.popHighestLocked()
		w.mu.Unlock()

		if next == nil {
			select {
			case <-w.notify:
			case <-w.done:
				return
			}
			continue
		}
		close(next.turn)
	}
}

// popHighestLocked removes and returns the head of the highest non-empty
// band, or nil if every band is empty. Callers must hold w.mu.
func (w *wheel) popHighestLocked() *waiter {
	for band := len(w.bands) - 1; band >= 0; band-- {
		if len(w.bands[band]) > 0 {
			next := w.bands[band][0]
			w.bands[band] = w.bands[band][1:]
			return next
		}
	}
	return nil
}

// await blocks until it is w's turn in priority band, or ctx is cancelled.
func (w *wheel) await(ctx context.Context, priority core.DownloadPriority) error {
	wt := &waiter{turn: make(chan struct{})}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return context.Canceled
	}
	band := int(priority)
	w.bands[band] = append(w.bands[band], wt)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}

	select {
	case <-wt.turn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return context.Canceled
	}
}

// shutdown releases the wheel goroutine; any waiter still parked in await
// observes w.done and returns context.Canceled.
func (w *wheel) shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
}
