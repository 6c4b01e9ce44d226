package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

// TestWheelServesHighestBandFirst exercises the admission wheel's pure
// band-selection logic directly, without the background goroutine, so
// ordering can be asserted deterministically.
func TestWheelServesHighestBandFirst(t *testing.T) {
	require := require.New(t)

	w := &wheel{}
	low := &waiter{turn: make(chan struct{})}
	critical := &waiter{turn: make(chan struct{})}
	normal := &waiter{turn: make(chan struct{})}

	w.bands[core.PriorityLow] = append(w.bands[core.PriorityLow], low)
	w.bands[core.PriorityCritical] = append(w.bands[core.PriorityCritical], critical)
	w.bands[core.PriorityNormal] = append(w.bands[core.PriorityNormal], normal)

	require.Same(critical, w.popHighestLocked())
	require.Same(normal, w.popHighestLocked())
	require.Same(low, w.popHighestLocked())
	require.Nil(w.popHighestLocked())
}

// TestWheelFIFOWithinBand confirms same-band waiters are served in arrival
// order, which is what provides round-robin fairness among same-priority
// downloads: each Acquire call from a download enqueues its own waiter at
// the tail of its band.
func TestWheelFIFOWithinBand(t *testing.T) {
	require := require.New(t)

	w := &wheel{}
	first := &waiter{turn: make(chan struct{})}
	second := &waiter{turn: make(chan struct{})}

	w.bands[core.PriorityNormal] = append(w.bands[core.PriorityNormal], first, second)

	require.Same(first, w.popHighestLocked())
	require.Same(second, w.popHighestLocked())
}
