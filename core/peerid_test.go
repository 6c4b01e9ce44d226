package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPeerIDErrors(t *testing.T) {
	tests := []struct {
		desc  string
		input string
	}{
		{"empty", ""},
		{"invalid hex", "invalid"},
		{"too short", "beef"},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, err := NewPeerID(test.input)
			require.Error(t, err)
		})
	}
}

func TestRandomPeerIDCarriesPrefix(t *testing.T) {
	require := require.New(t)

	p, err := RandomPeerID()
	require.NoError(err)
	require.Equal(peerIDPrefix, string(p[:len(peerIDPrefix)]))
}

func TestRandomPeerIDUnique(t *testing.T) {
	require := require.New(t)

	seen := make(map[PeerID]bool)
	for i := 0; i < 50; i++ {
		p, err := RandomPeerID()
		require.NoError(err)
		require.False(seen[p])
		seen[p] = true
	}
}

func TestPeerIDLessThan(t *testing.T) {
	require := require.New(t)

	p1 := PeerIDFixture()
	p2 := PeerIDFixture()
	if p1.String() < p2.String() {
		require.True(p1.LessThan(p2))
		require.False(p2.LessThan(p1))
	} else if p1.String() > p2.String() {
		require.True(p2.LessThan(p1))
		require.False(p1.LessThan(p2))
	}
}

func TestPeerIDRoundTripHex(t *testing.T) {
	require := require.New(t)

	p := PeerIDFixture()
	parsed, err := NewPeerID(p.String())
	require.NoError(err)
	require.Equal(p, parsed)
}
