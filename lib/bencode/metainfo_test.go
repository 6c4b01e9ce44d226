package bencode

import (
	"crypto/sha1"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// singleFileTorrent builds a minimal, valid single-file torrent metafile by
// hand, byte-exact, so the expected info-hash can be computed independently
// of the parser under test.
func singleFileTorrent() (data []byte, infoDict string) {
	pieces := strings.Repeat("a", 20) // one fake 20-byte SHA-1
	infoDict = "d6:lengthi10e4:name8:test.bin12:piece lengthi16384e6:pieces20:" + pieces + "e"
	data = []byte("d8:announce20:http://tracker.test/4:info" + infoDict + "e")
	return data, infoDict
}

func TestParseSingleFileTorrent(t *testing.T) {
	require := require.New(t)

	data, infoDict := singleFileTorrent()
	mi, err := Parse(data)
	require.NoError(err)

	require.Equal("test.bin", mi.Name())
	require.EqualValues(16384, mi.PieceLength())
	require.Equal(1, mi.NumPieces())
	require.Equal("http://tracker.test/", mi.Announce())
	require.Len(mi.Files(), 1)
	require.Equal(int64(10), mi.Files()[0].Length)
	require.Equal([]string{"test.bin"}, mi.Files()[0].Path)
	require.False(mi.Private())

	wantHash := sha1.Sum([]byte(infoDict))
	require.Equal(wantHash[:], mi.InfoHash().Bytes())
}

func TestParseMultiFileTorrent(t *testing.T) {
	require := require.New(t)

	pieces := strings.Repeat("b", 40) // two fake pieces
	entry1 := "d6:lengthi5e4:pathl1:a5:a.txtee"
	entry2 := "d6:lengthi7e4:pathl1:a5:b.txtee"
	filesList := "l" + entry1 + entry2 + "e"
	infoDict := "d5:files" + filesList + "4:name3:dir12:piece lengthi16384e6:pieces40:" + pieces + "e"
	data := []byte("d4:info" + infoDict + "e")

	mi, err := Parse(data)
	require.NoError(err)

	require.Equal(2, mi.NumPieces())
	require.Len(mi.Files(), 2)
	require.EqualValues(12, mi.TotalLength())
}

func TestParseRejectsMalformedPieces(t *testing.T) {
	require := require.New(t)

	infoDict := "d4:name1:a12:piece lengthi1e6:pieces3:abce"
	data := []byte("d4:info" + infoDict + "e")

	_, err := Parse(data)
	require.Error(err)
}

func TestParsePrivateFlag(t *testing.T) {
	require := require.New(t)

	infoDict := "d6:lengthi1e4:name1:a12:piece lengthi1e7:private" + "i1e" + "6:pieces20:" + strings.Repeat("c", 20) + "e"
	data := []byte("d4:info" + infoDict + "e")

	mi, err := Parse(data)
	require.NoError(err)
	require.True(mi.Private())
}

func TestParseInfoDictStandalone(t *testing.T) {
	require := require.New(t)

	_, infoDict := singleFileTorrent()

	mi, err := ParseInfoDict([]byte(infoDict))
	require.NoError(err)
	require.Equal("test.bin", mi.Name())
	require.Equal(1, mi.NumPieces())

	wantHash := sha1.Sum([]byte(infoDict))
	require.Equal(wantHash[:], mi.InfoHash().Bytes())
}

func TestPieceLengthAtShortensFinalPiece(t *testing.T) {
	require := require.New(t)

	// Total length 20000 with piece length 16384 -> 2 pieces, last is
	// 20000 - 16384 = 3616 bytes.
	pieces := strings.Repeat("d", 40)
	infoDict := "d6:lengthi20000e4:name1:a12:piece lengthi16384e6:pieces40:" + pieces + "e"
	data := []byte("d4:info" + infoDict + "e")

	mi, err := Parse(data)
	require.NoError(err)
	require.EqualValues(16384, mi.PieceLengthAt(0))
	require.EqualValues(3616, mi.PieceLengthAt(1))
}
