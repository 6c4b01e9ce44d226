package metadata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	payload, err := EncodeRequest(3)
	require.NoError(t, err)

	msgType, piece, _, data, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, MsgRequest, msgType)
	require.Equal(t, 3, piece)
	require.Empty(t, data)
}

func TestEncodeDecodeDataWithTrailingBytes(t *testing.T) {
	header, err := EncodeData(1, 16384)
	require.NoError(t, err)

	payload := append(append([]byte{}, header...), []byte("piece-bytes-here")...)

	msgType, piece, totalSize, data, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, MsgData, msgType)
	require.Equal(t, 1, piece)
	require.Equal(t, 16384, totalSize)
	require.Equal(t, "piece-bytes-here", string(data))
}

func TestAssemblerReassemblesAndValidates(t *testing.T) {
	infoDict := "d6:lengthi10e4:name8:test.bin12:piece lengthi16384e6:pieces20:" + strings.Repeat("a", 20) + "e"

	expected := core.NewInfoHashFromRawInfoDict([]byte(infoDict))
	a := NewAssembler(expected, len(infoDict))

	require.Equal(t, 1, a.NumPieces())
	require.Equal(t, []int{0}, a.Missing())

	mi, err := a.TryFinish()
	require.NoError(t, err)
	require.Nil(t, mi)

	a.AddPiece(0, []byte(infoDict))
	require.Empty(t, a.Missing())

	mi, err = a.TryFinish()
	require.NoError(t, err)
	require.Equal(t, "test.bin", mi.Name())
}

func TestAssemblerRejectsHashMismatch(t *testing.T) {
	a := NewAssembler(core.InfoHashFixture(), 4)
	a.AddPiece(0, []byte("nope"))

	_, err := a.TryFinish()
	require.Error(t, err)
}
