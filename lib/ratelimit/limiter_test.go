package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestAcquireUnregisteredDownloadErrors(t *testing.T) {
	require := require.New(t)

	l := New(Config{}, nil)
	err := l.Acquire(context.Background(), core.DownloadIDFixture(), Download, 1024)
	require.Error(err)
}

func TestAcquireDisabledReturnsImmediately(t *testing.T) {
	require := require.New(t)

	l := New(Config{Disable: true}, nil)
	id := core.DownloadIDFixture()
	l.RegisterDownload(id, core.PriorityNormal, nil, nil)

	start := time.Now()
	err := l.Acquire(context.Background(), id, Download, 1<<30)
	require.NoError(err)
	require.Less(time.Since(start), 100*time.Millisecond)
}

func TestAcquireUnlimitedReturnsImmediately(t *testing.T) {
	require := require.New(t)

	l := New(Config{}, nil)
	id := core.DownloadIDFixture()
	l.RegisterDownload(id, core.PriorityNormal, nil, nil)

	start := time.Now()
	err := l.Acquire(context.Background(), id, Download, 1<<20)
	require.NoError(err)
	require.Less(time.Since(start), 100*time.Millisecond)
}

func TestAcquirePerDownloadCapThrottles(t *testing.T) {
	require := require.New(t)

	l := New(Config{MinBurst: 1024}, nil)
	id := core.DownloadIDFixture()
	capBps := int64(1024) // 1 KiB/s, burst floored to MinBurst
	l.RegisterDownload(id, core.PriorityNormal, &capBps, nil)

	start := time.Now()
	// Requesting 2x the per-second cap must take noticeably longer than an
	// uncapped request would.
	err := l.Acquire(context.Background(), id, Download, capBps*2)
	require.NoError(err)
	require.GreaterOrEqual(time.Since(start), 900*time.Millisecond)
}

func TestSetPriorityUnregisteredDownloadErrors(t *testing.T) {
	require := require.New(t)

	l := New(Config{}, nil)
	err := l.SetPriority(core.DownloadIDFixture(), core.PriorityHigh)
	require.Error(err)
}

func TestShutdownCancelsFutureAcquires(t *testing.T) {
	require := require.New(t)

	l := New(Config{}, nil)
	id := core.DownloadIDFixture()
	l.RegisterDownload(id, core.PriorityNormal, nil, nil)

	l.Shutdown()

	err := l.Acquire(context.Background(), id, Download, 1024)
	require.Error(err)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	require := require.New(t)

	l := New(Config{}, nil)
	id := core.DownloadIDFixture()
	capBps := int64(1)
	l.RegisterDownload(id, core.PriorityNormal, &capBps, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, id, Download, 1<<20)
	require.Error(err)
}

func TestUnregisterDownloadRemovesBucket(t *testing.T) {
	require := require.New(t)

	l := New(Config{}, nil)
	id := core.DownloadIDFixture()
	l.RegisterDownload(id, core.PriorityNormal, nil, nil)
	l.UnregisterDownload(id)

	err := l.Acquire(context.Background(), id, Download, 1024)
	require.Error(err)
}
