// Package extension implements the BEP-10 extension protocol handshake: a
// bencoded dictionary, carried in an extended message with id 0, advertising
// which named extensions (ut_metadata, ut_pex) this peer supports and the
// local message id it expects them tagged with.
package extension

import (
	"bytes"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/gosh-dl/gosh/lib/peerwire"
)

// HandshakeExtendedID is the reserved extended-message id for the
// extension handshake itself.
const HandshakeExtendedID = 0

// handshakeDict is the bencoded payload of the extension handshake.
type handshakeDict struct {
	M          map[string]int64 `bencode:"m"`
	MetadataSize int64           `bencode:"metadata_size,omitempty"`
}

// Handshake is the decoded extension handshake: which extensions the peer
// supports, and by which local ids it tags them.
type Handshake struct {
	Supported    map[string]int
	MetadataSize int64
}

// Build constructs the extended handshake message this engine sends,
// advertising the given name->id map.
func Build(supported map[string]int, metadataSize int64) (*peerwire.Message, error) {
	m := make(map[string]int64, len(supported))
	for name, id := range supported {
		m[name] = int64(id)
	}
	var buf bytes.Buffer
	if err := bencodego.Marshal(&buf, handshakeDict{M: m, MetadataSize: metadataSize}); err != nil {
		return nil, err
	}
	return &peerwire.Message{
		ID:              peerwire.MsgExtended,
		ExtendedID:      HandshakeExtendedID,
		ExtendedPayload: buf.Bytes(),
	}, nil
}

// Parse decodes a peer's extension handshake payload.
func Parse(payload []byte) (*Handshake, error) {
	var d handshakeDict
	if err := bencodego.Unmarshal(bytes.NewReader(payload), &d); err != nil {
		return nil, err
	}
	supported := make(map[string]int, len(d.M))
	for name, id := range d.M {
		supported[name] = int(id)
	}
	return &Handshake{Supported: supported, MetadataSize: d.MetadataSize}, nil
}
