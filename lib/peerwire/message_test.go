package peerwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []*Message{
		{ID: MsgChoke},
		{ID: MsgUnchoke},
		{ID: MsgInterested},
		{ID: MsgNotInterested},
		{ID: MsgHave, PieceIndex: 42},
		{ID: MsgBitfield, Bitfield: []byte{0xff, 0x0f}},
		{ID: MsgRequest, Index: 1, Begin: 16384, Length: 16384},
		{ID: MsgCancel, Index: 1, Begin: 0, Length: 16384},
		{ID: MsgPiece, Index: 2, Begin: 0, Block: []byte("hello world")},
		{ID: MsgPort, Port: 6881},
		{ID: MsgExtended, ExtendedID: 1, ExtendedPayload: []byte("d1:md11:ut_metadatai1eee")},
	}

	for _, m := range tests {
		encoded := m.Encode()
		got, err := ReadMessage(bytes.NewReader(encoded))
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestKeepAliveRoundTrip(t *testing.T) {
	encoded := KeepAlive().Encode()
	require.Equal(t, []byte{0, 0, 0, 0}, encoded)

	got, err := ReadMessage(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.True(t, got.IsKeepAlive())
}

func TestReadMessageRejectsOversized(t *testing.T) {
	var buf [4]byte
	big := uint32(maxMessageLength + 1)
	buf[0] = byte(big >> 24)
	buf[1] = byte(big >> 16)
	buf[2] = byte(big >> 8)
	buf[3] = byte(big)

	_, err := ReadMessage(bytes.NewReader(buf[:]))
	require.Error(t, err)
}
