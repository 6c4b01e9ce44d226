package picker

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"
)

func fullBitfield(n int) *bitset.BitSet {
	b := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		b.Set(uint(i))
	}
	return b
}

func TestPickRespectsLimitAndHave(t *testing.T) {
	p := New(10, false)
	p.MarkHave(0)
	p.MarkHave(1)

	peer := fullBitfield(10)
	picked := p.Pick(peer, 3, false)

	require.Len(t, picked, 3)
	for _, i := range picked {
		require.NotEqual(t, 0, i)
		require.NotEqual(t, 1, i)
	}
}

func TestPickDoesNotRepeatWithoutDuplicatesAllowed(t *testing.T) {
	p := New(10, false)
	peer := fullBitfield(10)

	first := p.Pick(peer, 10, false)
	second := p.Pick(peer, 10, false)

	require.NotEmpty(t, first)
	require.Empty(t, second)
}

func TestPickAllowsDuplicatesInEndgame(t *testing.T) {
	p := New(4, false)
	peer := fullBitfield(4)

	first := p.Pick(peer, 4, false)
	require.Len(t, first, 4)

	second := p.Pick(peer, 4, true)
	require.Len(t, second, 4)
}

func TestReleaseReturnsPieceToPool(t *testing.T) {
	p := New(4, false)
	peer := fullBitfield(4)

	picked := p.Pick(peer, 4, false)
	require.Len(t, picked, 4)

	p.Release(picked[0])

	again := p.Pick(peer, 4, false)
	require.Contains(t, again, picked[0])
}

func TestRarestFirstPrefersLeastReplicated(t *testing.T) {
	p := New(4, false)
	// Consume the initial 4 uniformly-random picks so rarity governs the
	// next round.
	p.Pick(fullBitfield(4), 4, false)
	for i := 0; i < 4; i++ {
		p.Release(i)
	}

	common := bitset.New(4)
	common.Set(0).Set(1).Set(2)
	rare := bitset.New(4)
	rare.Set(3)

	p.SetPeerHas(common)
	p.SetPeerHas(common)
	p.SetPeerHas(rare)

	picked := p.Pick(fullBitfield(4), 1, false)
	require.Equal(t, []int{3}, picked)
}

func TestSequentialPicksInOrder(t *testing.T) {
	p := New(5, true)
	p.randomN = 0 // force past the initial random window for this test
	picked := p.Pick(fullBitfield(5), 2, false)
	require.Equal(t, []int{0, 1}, picked)
}

func TestEndgameThreshold(t *testing.T) {
	require.True(t, EndgameThreshold(10, 32))
	require.False(t, EndgameThreshold(50, 32))
	require.False(t, EndgameThreshold(0, 32))
}
