package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadIDLongAndShortFormRoundTrip(t *testing.T) {
	require := require.New(t)

	id := DownloadIDFixture()
	long := id.String()
	short := id.Short()

	parsedLong, err := ParseDownloadID(long)
	require.NoError(err)
	require.Equal(id, parsedLong)

	require.Len(short, 16)
	require.Equal(short, long[:8]+long[9:13]+long[14:18])
}

func TestResolveExactMatch(t *testing.T) {
	require := require.New(t)

	a := DownloadIDFixture()
	b := DownloadIDFixture()

	resolved, err := Resolve(a.String(), []DownloadID{a, b})
	require.NoError(err)
	require.Equal(a, resolved)
}

func TestResolveUniquePrefix(t *testing.T) {
	require := require.New(t)

	a := DownloadIDFixture()
	b := DownloadIDFixture()

	// The short form is always a valid disambiguating prefix of itself.
	resolved, err := Resolve(a.Short(), []DownloadID{a, b})
	require.NoError(err)
	require.Equal(a, resolved)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	require := require.New(t)

	var a, b DownloadID
	copy(a[:], []byte{0xab, 0xcd, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d})
	copy(b[:], []byte{0xab, 0xcd, 0xef, 0x99, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d})

	_, err := Resolve("abcdef", []DownloadID{a, b})
	require.ErrorIs(err, ErrAmbiguousID)
}

func TestResolveNotFound(t *testing.T) {
	require := require.New(t)

	a := DownloadIDFixture()

	_, err := Resolve("ffffffffffffffff", []DownloadID{a})
	require.ErrorIs(err, ErrIDNotFound)
}

func TestParseDownloadIDInvalid(t *testing.T) {
	require := require.New(t)

	_, err := ParseDownloadID("not-a-valid-id")
	require.Error(err)
}
