package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/uber-go/tally"
	"golang.org/x/time/rate"

	"github.com/gosh-dl/gosh/core"
)

// Limiter is the engine-wide bandwidth allocator: a
// global token bucket per direction, an optional per-download token bucket
// layered on top, and a strict-priority admission wheel so that higher
// DownloadPriority bands are served first while same-band downloads are
// round-robined rather than starved.
type Limiter struct {
	config Config
	stats  tally.Scope

	globalDownload *rate.Limiter
	globalUpload   *rate.Limiter

	wheelDownload *wheel
	wheelUpload   *wheel

	mu      sync.RWMutex
	buckets map[core.DownloadID]*downloadBucket
}

// New constructs a Limiter. A nil GlobalDownloadBytesPerSec/
// GlobalUploadBytesPerSec means that direction is unlimited globally;
// per-download caps (set via RegisterDownload) still apply. stats is
// tagged per acquire direction; nil stats is replaced with a no-op scope.
func New(config Config, stats tally.Scope) *Limiter {
	config = config.applyDefaults()
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Limiter{
		config:         config,
		stats:          stats,
		globalDownload: limiterFor(config.GlobalDownloadBytesPerSec, config.MinBurst),
		globalUpload:   limiterFor(config.GlobalUploadBytesPerSec, config.MinBurst),
		wheelDownload:  newWheel(),
		wheelUpload:    newWheel(),
		buckets:        make(map[core.DownloadID]*downloadBucket),
	}
}

// RegisterDownload installs a per-download bucket for id, used to admit
// future Acquire calls for that download into the priority wheel and to
// apply any per-download speed cap from DownloadOptions.
func (l *Limiter) RegisterDownload(id core.DownloadID, priority core.DownloadPriority, maxDownloadBps, maxUploadBps *int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[id] = newDownloadBucket(id, priority, maxDownloadBps, maxUploadBps, l.config.MinBurst)
}

// UnregisterDownload removes id's bucket, e.g. on cancel.
func (l *Limiter) UnregisterDownload(id core.DownloadID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, id)
}

// SetPriority updates the priority band a registered download is admitted
// under, taking effect on the next Acquire call.
func (l *Limiter) SetPriority(id core.DownloadID, priority core.DownloadPriority) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[id]
	if !ok {
		return fmt.Errorf("ratelimit: download %s not registered", id.Short())
	}
	b.priority = priority
	return nil
}

// Acquire suspends until n bytes of credit are available for id in the
// given direction, then deducts and returns. Credit is consumed on return
// regardless of what the caller subsequently does with it — callers must
// not attempt to return unused credit on I/O failure. When the configured
// rate is unlimited (Disable, or both the global and per-download caps are
// nil), Acquire returns immediately once admitted by the priority wheel.
func (l *Limiter) Acquire(ctx context.Context, id core.DownloadID, dir Direction, n int64) error {
	l.mu.RLock()
	b, ok := l.buckets[id]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ratelimit: download %s not registered", id.Short())
	}

	w := l.wheelDownload
	global := l.globalDownload
	if dir == Upload {
		w = l.wheelUpload
		global = l.globalUpload
	}

	if err := w.await(ctx, b.priority); err != nil {
		return err
	}

	if l.config.Disable {
		return nil
	}

	if err := acquireN(ctx, global, n); err != nil {
		return err
	}
	if err := acquireN(ctx, b.limiterForDirection(dir), n); err != nil {
		return err
	}
	l.stats.Tagged(map[string]string{"direction": dir.String()}).Counter("bytes_acquired").Inc(n)
	return nil
}

// acquireN reserves n tokens from l, splitting into burst-sized chunks
// when n exceeds the bucket's capacity. A nil limiter means unlimited.
func acquireN(ctx context.Context, l *rate.Limiter, n int64) error {
	if l == nil || n <= 0 {
		return nil
	}
	burst := int64(l.Burst())
	if burst <= 0 {
		burst = n
	}
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.WaitN(ctx, int(chunk)); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Shutdown cancels every waiter currently parked in the admission wheel.
// Apart from that, Acquire fails only for an unregistered download or a
// cancelled context.
func (l *Limiter) Shutdown() {
	l.wheelDownload.shutdown()
	l.wheelUpload.shutdown()
}
