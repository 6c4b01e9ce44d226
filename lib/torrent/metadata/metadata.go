// Package metadata implements BEP-9 ut_metadata: fetching a torrent's info
// dictionary from connected peers when a download was added as a magnet
// link and no metainfo is available yet.
package metadata

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"fmt"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/bencode"
)

// ExtensionName is the ut_metadata key advertised in the BEP-10 handshake.
const ExtensionName = "ut_metadata"

// Message types within the ut_metadata extension payload.
const (
	MsgRequest = 0
	MsgData    = 1
	MsgReject  = 2
)

// pieceSize is the fixed chunk size BEP-9 transfers metadata in.
const pieceSize = 16 * 1024

type wireMessage struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

// EncodeRequest builds the bencoded ut_metadata request for piece i. The
// raw bytes of any trailing data payload are appended by the caller at the
// wire layer, per BEP-9 ("dictionary, followed by piece data").
func EncodeRequest(piece int) ([]byte, error) {
	return marshal(wireMessage{MsgType: MsgRequest, Piece: piece})
}

// EncodeReject builds a ut_metadata reject message for piece i.
func EncodeReject(piece int) ([]byte, error) {
	return marshal(wireMessage{MsgType: MsgReject, Piece: piece})
}

// EncodeData builds a ut_metadata data message header for piece i; the
// caller appends the piece bytes after this header.
func EncodeData(piece, totalSize int) ([]byte, error) {
	return marshal(wireMessage{MsgType: MsgData, Piece: piece, TotalSize: totalSize})
}

func marshal(m wireMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencodego.Marshal(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode splits a raw ut_metadata extension payload into its bencoded
// header and any trailing piece-data bytes. Unmarshal reads exactly one
// value from its *bufio.Reader argument and leaves it positioned right
// after that value, so the bytes still buffered in br are the piece data
// verbatim (BEP-9: "dictionary, followed by piece data").
func Decode(payload []byte) (msgType, piece, totalSize int, data []byte, err error) {
	br := bufio.NewReader(bytes.NewReader(payload))
	var m wireMessage
	if err := bencodego.Unmarshal(br, &m); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("metadata: decode header: %s", err)
	}
	if br.Buffered() > 0 {
		data = make([]byte, br.Buffered())
		br.Read(data)
	}
	return m.MsgType, m.Piece, m.TotalSize, data, nil
}

// Assembler collects BEP-9 metadata pieces fetched from peers and validates
// the reassembled info-dictionary against the magnet's expected info hash.
type Assembler struct {
	expected core.InfoHash
	total    int
	pieces   map[int][]byte
}

// NewAssembler creates an Assembler for a magnet with the given expected
// info hash and total metadata size in bytes.
func NewAssembler(expected core.InfoHash, totalSize int) *Assembler {
	return &Assembler{expected: expected, total: totalSize, pieces: make(map[int][]byte)}
}

// NumPieces returns how many 16 KiB pieces the metadata is split into.
func (a *Assembler) NumPieces() int {
	return (a.total + pieceSize - 1) / pieceSize
}

// AddPiece records piece i's data.
func (a *Assembler) AddPiece(i int, data []byte) {
	a.pieces[i] = data
}

// Missing returns the indices of pieces not yet received.
func (a *Assembler) Missing() []int {
	var missing []int
	for i := 0; i < a.NumPieces(); i++ {
		if _, ok := a.pieces[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// TryFinish reassembles all pieces, verifies the result hashes to the
// expected info hash, and parses it into a *bencode.MetaInfo. Returns
// (nil, nil) if pieces are still missing.
func (a *Assembler) TryFinish() (*bencode.MetaInfo, error) {
	if len(a.Missing()) > 0 {
		return nil, nil
	}

	buf := make([]byte, 0, a.total)
	for i := 0; i < a.NumPieces(); i++ {
		buf = append(buf, a.pieces[i]...)
	}

	got := sha1.Sum(buf)
	if core.InfoHash(got) != a.expected {
		return nil, fmt.Errorf("metadata: reassembled info dict hash mismatch")
	}

	return bencode.ParseInfoDict(buf)
}
