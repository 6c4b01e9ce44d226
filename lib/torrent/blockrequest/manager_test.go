package blockrequest

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestQuotaDecreasesWithPendingRequests(t *testing.T) {
	clk := clock.NewMock()
	m := New(clk, 30*time.Second, 2)
	peer := core.PeerIDFixture()

	require.Equal(t, 2, m.Quota(peer))

	m.Add(peer, Key{Piece: 0, Begin: 0})
	require.Equal(t, 1, m.Quota(peer))

	m.Add(peer, Key{Piece: 0, Begin: 16384})
	require.Equal(t, 0, m.Quota(peer))
}

func TestCompleteFreesQuota(t *testing.T) {
	clk := clock.NewMock()
	m := New(clk, 30*time.Second, 1)
	peer := core.PeerIDFixture()

	m.Add(peer, Key{Piece: 0, Begin: 0})
	require.Equal(t, 0, m.Quota(peer))

	m.Complete(Key{Piece: 0, Begin: 0})
	require.Equal(t, 1, m.Quota(peer))
}

func TestExpiredRequestsSurface(t *testing.T) {
	clk := clock.NewMock()
	m := New(clk, 10*time.Second, 5)
	peer := core.PeerIDFixture()

	m.Add(peer, Key{Piece: 1, Begin: 0})
	require.Empty(t, m.Expired())

	clk.Add(11 * time.Second)
	require.Equal(t, []Key{{Piece: 1, Begin: 0}}, m.Expired())
}

func TestClearPeerReturnsPendingKeys(t *testing.T) {
	clk := clock.NewMock()
	m := New(clk, 30*time.Second, 5)
	peer := core.PeerIDFixture()

	m.Add(peer, Key{Piece: 0, Begin: 0})
	m.Add(peer, Key{Piece: 0, Begin: 16384})

	freed := m.ClearPeer(peer)
	require.Len(t, freed, 2)
	require.Equal(t, 5, m.Quota(peer))
}
