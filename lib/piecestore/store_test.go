package piecestore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBlockCompletesAndVerifiesPiece(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 32)
	s, _, cleanup := Fixture(data, 16, 16)
	defer cleanup()

	require.Equal(t, 2, s.NumPieces())
	require.Equal(t, PieceMissing, s.State(0))

	complete, ok, err := s.WriteBlock(0, 0, data[0:16])
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, complete)
	require.Equal(t, PieceComplete, s.State(0))
	require.True(t, s.Bitfield().Test(0))

	got, err := s.ReadBlock(0, 0, 16)
	require.NoError(t, err)
	require.Equal(t, data[0:16], got)
}

func TestWriteBlockPartialDoesNotComplete(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 32)
	s, _, cleanup := Fixture(data, 32, 16)
	defer cleanup()

	complete, ok, err := s.WriteBlock(0, 0, data[0:16])
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, complete)
	require.Equal(t, PieceInFlight, s.State(0))
}

func TestWriteBlockHashMismatchRevertsToMissing(t *testing.T) {
	data := bytes.Repeat([]byte{0x02}, 16)
	s, _, cleanup := Fixture(data, 16, 16)
	defer cleanup()

	wrong := bytes.Repeat([]byte{0x03}, 16)
	complete, ok, err := s.WriteBlock(0, 0, wrong)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, complete)
	require.Equal(t, PieceMissing, s.State(0))
}

func TestWriteBlockOutOfRange(t *testing.T) {
	data := bytes.Repeat([]byte{0x04}, 16)
	s, _, cleanup := Fixture(data, 16, 16)
	defer cleanup()

	_, _, err := s.WriteBlock(0, 8, make([]byte, 16))
	require.ErrorIs(t, err, ErrBlockOutOfRange)

	_, _, err = s.WriteBlock(5, 0, make([]byte, 4))
	require.ErrorIs(t, err, ErrPieceOutOfRange)
}

func TestCompletedSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x05}, 32)
	s, _, cleanup := Fixture(data, 16, 16)
	defer cleanup()

	require.Equal(t, int64(0), s.CompletedSize())

	_, _, err := s.WriteBlock(0, 0, data[0:16])
	require.NoError(t, err)
	require.Equal(t, int64(16), s.CompletedSize())

	_, _, err = s.WriteBlock(1, 0, data[16:32])
	require.NoError(t, err)
	require.Equal(t, int64(32), s.CompletedSize())
}

func TestRestoreBitfieldAndVerifyAllDropsMismatch(t *testing.T) {
	data := bytes.Repeat([]byte{0x06}, 32)
	s, _, cleanup := Fixture(data, 16, 16)
	defer cleanup()

	_, _, err := s.WriteBlock(0, 0, data[0:16])
	require.NoError(t, err)

	saved, err := s.MarshalBitfield()
	require.NoError(t, err)

	// Corrupt piece 0 on disk behind the store's back.
	require.NoError(t, s.layout.writeAt(0, bytes.Repeat([]byte{0xFF}, 16)))

	s2, _, cleanup2 := Fixture(data, 16, 16)
	defer cleanup2()
	require.NoError(t, s2.RestoreBitfield(saved))
	require.Equal(t, PieceComplete, s2.State(0))

	// s2 was built over its own clean fixture data, so verifying succeeds
	// and nothing is dropped; re-run against the corrupted store to show
	// the drop path.
	require.NoError(t, s.RestoreBitfield(saved))
	dropped, err := s.VerifyAll()
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	require.Equal(t, PieceMissing, s.State(0))
}
