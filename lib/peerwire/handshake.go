package peerwire

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gosh-dl/gosh/core"
)

// protocolString is the fixed 19-byte protocol identifier of the BEP-3
// handshake.
const protocolString = "BitTorrent protocol"

// HandshakeLen is the fixed handshake length: 1 + 19 + 8 + 20 + 20 bytes.
const HandshakeLen = 1 + len(protocolString) + 8 + 20 + 20

// extensionBit is reserved byte 5's 0x10 bit, indicating BEP-10 extension
// protocol support.
const extensionBit = 0x10

// Handshake is the decoded form of the 68-byte BEP-3 handshake message.
type Handshake struct {
	InfoHash        core.InfoHash
	PeerID          core.PeerID
	SupportsExtended bool
}

// reserved builds the 8 reserved bytes this engine advertises: only the
// BEP-10 extension bit is set.
func reserved(extended bool) [8]byte {
	var r [8]byte
	if extended {
		r[5] |= extensionBit
	}
	return r
}

// Encode serializes h into the 68-byte wire form.
func (h Handshake) Encode() []byte {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, byte(len(protocolString)))
	buf = append(buf, protocolString...)
	r := reserved(h.SupportsExtended)
	buf = append(buf, r[:]...)
	buf = append(buf, h.InfoHash.Bytes()...)
	buf = append(buf, h.PeerID.Bytes()...)
	return buf
}

// DecodeHandshake parses a 68-byte buffer into a Handshake.
func DecodeHandshake(buf []byte) (*Handshake, error) {
	if len(buf) != HandshakeLen {
		return nil, fmt.Errorf("peerwire: handshake has invalid length %d, want %d", len(buf), HandshakeLen)
	}
	if int(buf[0]) != len(protocolString) || string(buf[1:1+len(protocolString)]) != protocolString {
		return nil, fmt.Errorf("peerwire: unrecognized protocol string")
	}
	reservedOff := 1 + len(protocolString)
	infoHashOff := reservedOff + 8
	peerIDOff := infoHashOff + 20

	var ih core.InfoHash
	copy(ih[:], buf[infoHashOff:infoHashOff+20])

	var pid core.PeerID
	copy(pid[:], buf[peerIDOff:peerIDOff+20])

	return &Handshake{
		InfoHash:         ih,
		PeerID:           pid,
		SupportsExtended: buf[reservedOff+5]&extensionBit != 0,
	}, nil
}

// WriteHandshake writes this end's 68-byte handshake to conn under timeout,
// advertising infoHash and localPeerID. Split out from Do so the engine's
// shared inbound listener can read a remote handshake first, to learn
// which Session's info hash it names, before any local handshake is sent.
func WriteHandshake(conn net.Conn, localPeerID core.PeerID, infoHash core.InfoHash, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("peerwire: set handshake write deadline: %s", err)
	}
	defer conn.SetWriteDeadline(time.Time{})

	out := Handshake{InfoHash: infoHash, PeerID: localPeerID, SupportsExtended: true}
	if _, err := conn.Write(out.Encode()); err != nil {
		return fmt.Errorf("peerwire: write handshake: %s", err)
	}
	return nil
}

// ReadHandshake reads and decodes the peer's 68-byte handshake from conn
// under timeout, without writing anything. Used both by Do (after writing
// ours) and by the engine's inbound listener (before writing ours, since it
// doesn't yet know which Session's info hash to reply with).
func ReadHandshake(conn net.Conn, timeout time.Duration) (*Handshake, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("peerwire: set handshake read deadline: %s", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("peerwire: read handshake: %s", err)
	}
	return DecodeHandshake(buf)
}

// Do performs the handshake over conn, already connected: it writes this
// end's handshake and reads the peer's, then closes the connection if the
// info-hash doesn't match "Mismatched info-hash closes the
// connection." The connection's deadline is set for the duration of the
// exchange and cleared on success, mirroring conn.go's newConn clearing
// post-handshake deadlines.
func Do(conn net.Conn, localPeerID core.PeerID, infoHash core.InfoHash, timeout time.Duration) (*Handshake, error) {
	if err := WriteHandshake(conn, localPeerID, infoHash, timeout); err != nil {
		return nil, err
	}

	in, err := ReadHandshake(conn, timeout)
	if err != nil {
		return nil, err
	}
	if in.InfoHash != infoHash {
		conn.Close()
		return nil, fmt.Errorf("peerwire: info hash mismatch: got %s, want %s", in.InfoHash, infoHash)
	}
	return in, nil
}
