// Package peerwire implements the BitTorrent peer wire protocol: the
// 68-byte handshake, length-prefixed message framing, and the
// per-connection (am_choking, am_interested, peer_choking, peer_interested)
// state machine. The framing must be bit-exact against BEP-3/BEP-10 to
// interoperate with real BitTorrent peers.
package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies a peer wire message type by the single byte that
// follows the 4-byte length prefix.
type MessageID byte

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
	MsgPort          MessageID = 9
	MsgExtended      MessageID = 20

	// msgKeepAlive is not a real id byte — a keep-alive is framed as a
	// zero-length message with no id byte at all. It is modeled as a
	// distinct sentinel ID for dispatch convenience.
	msgKeepAlive MessageID = 0xff
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	case MsgPort:
		return "port"
	case MsgExtended:
		return "extended"
	case msgKeepAlive:
		return "keep_alive"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// BlockSize is the canonical peer-wire request/piece block size (BEP-3:
// "Block — a sub-unit of a piece used on the peer wire; canonical size 16
// KiB").
const BlockSize = 16 * 1024

// MaxBlockRequest is the largest length a peer is permitted to request in
// a single `request` message; larger requests are rejected rather than
// served, matching common BitTorrent client behavior.
const MaxBlockRequest = BlockSize

// Message is a decoded peer wire message. Only the fields relevant to ID
// are populated.
type Message struct {
	ID MessageID

	// Have
	PieceIndex uint32

	// Bitfield
	Bitfield []byte

	// Request / Cancel
	Index  uint32
	Begin  uint32
	Length uint32

	// Piece
	Block []byte

	// Port
	Port uint16

	// Extended
	ExtendedID      byte
	ExtendedPayload []byte
}

// KeepAlive constructs a zero-length keep-alive message.
func KeepAlive() *Message { return &Message{ID: msgKeepAlive} }

// IsKeepAlive reports whether m is a keep-alive.
func (m *Message) IsKeepAlive() bool { return m.ID == msgKeepAlive }

// Encode serializes m into the 4-byte-length-prefixed wire form.
func (m *Message) Encode() []byte {
	if m.ID == msgKeepAlive {
		return []byte{0, 0, 0, 0}
	}

	var payload []byte
	switch m.ID {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		// No payload.
	case MsgHave:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, m.PieceIndex)
	case MsgBitfield:
		payload = m.Bitfield
	case MsgRequest, MsgCancel:
		payload = make([]byte, 12)
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		binary.BigEndian.PutUint32(payload[8:12], m.Length)
	case MsgPiece:
		payload = make([]byte, 8+len(m.Block))
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		copy(payload[8:], m.Block)
	case MsgPort:
		payload = make([]byte, 2)
		binary.BigEndian.PutUint16(payload, m.Port)
	case MsgExtended:
		payload = make([]byte, 1+len(m.ExtendedPayload))
		payload[0] = m.ExtendedID
		copy(payload[1:], m.ExtendedPayload)
	}

	length := uint32(1 + len(payload))
	out := make([]byte, 4+length)
	binary.BigEndian.PutUint32(out[0:4], length)
	out[4] = byte(m.ID)
	copy(out[5:], payload)
	return out
}

// ReadMessage reads and decodes one length-prefixed message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAlive(), nil
	}
	if length > maxMessageLength {
		return nil, fmt.Errorf("peerwire: message length %d exceeds max %d", length, maxMessageLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	id := MessageID(body[0])
	payload := body[1:]

	m := &Message{ID: id}
	switch id {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
	case MsgHave:
		if len(payload) != 4 {
			return nil, fmt.Errorf("peerwire: malformed have message")
		}
		m.PieceIndex = binary.BigEndian.Uint32(payload)
	case MsgBitfield:
		m.Bitfield = payload
	case MsgRequest, MsgCancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerwire: malformed request/cancel message")
		}
		m.Index = binary.BigEndian.Uint32(payload[0:4])
		m.Begin = binary.BigEndian.Uint32(payload[4:8])
		m.Length = binary.BigEndian.Uint32(payload[8:12])
	case MsgPiece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("peerwire: malformed piece message")
		}
		m.Index = binary.BigEndian.Uint32(payload[0:4])
		m.Begin = binary.BigEndian.Uint32(payload[4:8])
		m.Block = payload[8:]
	case MsgPort:
		if len(payload) != 2 {
			return nil, fmt.Errorf("peerwire: malformed port message")
		}
		m.Port = binary.BigEndian.Uint16(payload)
	case MsgExtended:
		if len(payload) < 1 {
			return nil, fmt.Errorf("peerwire: malformed extended message")
		}
		m.ExtendedID = payload[0]
		m.ExtendedPayload = payload[1:]
	default:
		return nil, fmt.Errorf("peerwire: unknown message id %d", id)
	}
	return m, nil
}

// maxMessageLength bounds a single message body (excluding the 4-byte
// length prefix itself) to a 16 KiB block plus a small header margin,
// rejecting a peer that tries to send an oversized frame.
const maxMessageLength = BlockSize + 256
