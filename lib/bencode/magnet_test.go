package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMagnetHexHash(t *testing.T) {
	require := require.New(t)

	uri := "magnet:?xt=urn:btih:e3b0c44298fc1c149afbf4c8996fb92427ae41e4&dn=example&tr=http%3A%2F%2Ft1.test&ws=http%3A%2F%2Fseed.test"
	m, err := ParseMagnet(uri)
	require.NoError(err)

	require.Equal("e3b0c44298fc1c149afbf4c8996fb92427ae41e4", m.InfoHash.Hex())
	require.Equal("example", m.Name)
	require.Equal([]string{"http://t1.test"}, m.Trackers)
	require.Equal([]string{"http://seed.test"}, m.WebSeeds)
}

func TestParseMagnetBase32Hash(t *testing.T) {
	require := require.New(t)

	// 32-char base32 encoding of 20 zero bytes.
	uri := "magnet:?xt=urn:btih:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	m, err := ParseMagnet(uri)
	require.NoError(err)
	require.Equal("0000000000000000000000000000000000000000", m.InfoHash.Hex())
}

func TestParseMagnetMissingXT(t *testing.T) {
	require := require.New(t)

	_, err := ParseMagnet("magnet:?dn=example")
	require.Error(err)
}

func TestParseMagnetNotAMagnetURI(t *testing.T) {
	require := require.New(t)

	_, err := ParseMagnet("https://example.test/file.torrent")
	require.Error(err)
}

func TestParseMagnetInvalidHashLength(t *testing.T) {
	require := require.New(t)

	_, err := ParseMagnet("magnet:?xt=urn:btih:deadbeef")
	require.Error(err)
}
