package httpdownload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanSegmentsUnknownSize(t *testing.T) {
	segs := planSegments(-1, false, 8, 1<<20)
	require.Len(t, segs, 1)
	require.Equal(t, int64(0), segs[0].Start)
	require.Equal(t, int64(-1), segs[0].End)
	require.False(t, segs[0].done())
}

func TestPlanSegmentsNotRangedSingleSegment(t *testing.T) {
	segs := planSegments(10<<20, false, 8, 1<<20)
	require.Len(t, segs, 1)
	require.Equal(t, int64(0), segs[0].Start)
	require.Equal(t, int64(10<<20-1), segs[0].End)
}

func TestPlanSegmentsBelowMinSizeSingleSegment(t *testing.T) {
	segs := planSegments(512<<10, true, 8, 1<<20)
	require.Len(t, segs, 1)
}

func TestPlanSegmentsSplitsEvenlyWithRemainderOnLast(t *testing.T) {
	// 10 MiB, 1 MiB minimum, cap of 4 connections -> 4 segments.
	total := int64(10 << 20)
	segs := planSegments(total, true, 4, 1<<20)
	require.Len(t, segs, 4)

	require.Equal(t, int64(0), segs[0].Start)
	for i := 1; i < len(segs); i++ {
		require.Equal(t, segs[i-1].End+1, segs[i].Start, "segment %d should start where %d ended", i, i-1)
	}
	require.Equal(t, total-1, segs[len(segs)-1].End)

	var sum int64
	for _, s := range segs {
		sum += s.length()
	}
	require.Equal(t, total, sum)
}

func TestPlanSegmentsCapsAtMaxConnections(t *testing.T) {
	// 100 MiB at 1 MiB minimum would want 100 segments; capped to 8.
	segs := planSegments(100<<20, true, 8, 1<<20)
	require.Len(t, segs, 8)
}

func TestSegmentProgressAndDone(t *testing.T) {
	seg := &segment{Start: 0, End: 99}
	require.False(t, seg.done())

	seg.setProgress(50)
	require.Equal(t, int64(50), seg.progress())
	require.False(t, seg.done())

	seg.setProgress(100)
	require.True(t, seg.done())
}

func TestUnknownLengthSegmentDoneOnlyAfterFinished(t *testing.T) {
	seg := &segment{Start: 0, End: -1}
	seg.setProgress(1 << 20)
	require.False(t, seg.done(), "unknown-length segment isn't done until EOF marks it finished")

	seg.markFinished()
	require.True(t, seg.done())
}
