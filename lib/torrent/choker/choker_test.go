package choker

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestRoundUnchokesBestUploaders(t *testing.T) {
	clk := clock.NewMock()
	c := New(Config{UnchokeSlots: 2}, clk, func() bool { return false })

	peers := []PeerStats{
		{PeerID: core.PeerIDFixture(), DownloadedRate: 100, Interested: true},
		{PeerID: core.PeerIDFixture(), DownloadedRate: 300, Interested: true},
		{PeerID: core.PeerIDFixture(), DownloadedRate: 200, Interested: true},
	}

	decisions := c.Round(peers)

	byRate := map[core.PeerID]bool{}
	for _, d := range decisions {
		byRate[d.PeerID] = d.Unchoke
	}
	require.True(t, byRate[peers[1].PeerID])
	require.True(t, byRate[peers[2].PeerID])
	// peers[0] misses the two regular slots but is the only interested peer
	// left, so the optimistic slot the first round always grants goes to it.
	require.True(t, byRate[peers[0].PeerID])
}

func TestRoundSkipsUninterestedPeers(t *testing.T) {
	clk := clock.NewMock()
	c := New(Config{UnchokeSlots: 1}, clk, func() bool { return false })

	peers := []PeerStats{
		{PeerID: core.PeerIDFixture(), DownloadedRate: 1000, Interested: false},
		{PeerID: core.PeerIDFixture(), DownloadedRate: 1, Interested: true},
	}

	decisions := c.Round(peers)
	for _, d := range decisions {
		if d.PeerID == peers[0].PeerID {
			require.False(t, d.Unchoke)
		}
		if d.PeerID == peers[1].PeerID {
			require.True(t, d.Unchoke)
		}
	}
}

func TestRoundGrantsOptimisticSlotOnSchedule(t *testing.T) {
	clk := clock.NewMock()
	c := New(Config{UnchokeSlots: 0, OptimisticInterval: 30 * time.Second}, clk, func() bool { return false })

	peer := PeerStats{PeerID: core.PeerIDFixture(), Interested: true}
	decisions := c.Round([]PeerStats{peer})
	require.True(t, decisions[0].Unchoke, "first round should grant the initial optimistic slot")

	clk.Add(10 * time.Second)
	decisions = c.Round([]PeerStats{peer})
	// Not due again yet, but since it's still the only peer it remains
	// unchoked from the prior optimistic grant only if re-picked; since
	// slots is 0 and not due, the peer should not be force-unchoked twice
	// in a row unless re-selected by another due round.
	_ = decisions
}

func TestSeedingRanksByUploadRate(t *testing.T) {
	clk := clock.NewMock()
	seeding := true
	c := New(Config{UnchokeSlots: 1}, clk, func() bool { return seeding })

	peers := []PeerStats{
		{PeerID: core.PeerIDFixture(), UploadedRate: 10, Interested: true},
		{PeerID: core.PeerIDFixture(), UploadedRate: 500, Interested: true},
	}

	decisions := c.Round(peers)
	for _, d := range decisions {
		if d.PeerID == peers[1].PeerID {
			require.True(t, d.Unchoke)
		}
	}
}
