package core

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidPeerIDLength is returned when a string peer id does not decode
// into exactly 20 bytes.
var ErrInvalidPeerIDLength = errors.New("peer id has invalid length")

// PeerID is the 20-byte identifier a client presents during a BitTorrent
// handshake (BEP-20 style: "-GH0001-" prefix followed by random bytes).
type PeerID [20]byte

// peerIDPrefix identifies this engine to other peers and trackers, per the
// Azureus-style convention most modern clients follow.
const peerIDPrefix = "-GH0001-"

// NewPeerID parses a PeerID from a 40-character hex string.
func NewPeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// RandomPeerID generates a fresh PeerID carrying this client's identifying
// prefix followed by random bytes, as trackers and peers expect.
func RandomPeerID() (PeerID, error) {
	var p PeerID
	copy(p[:], peerIDPrefix)
	if _, err := rand.Read(p[len(peerIDPrefix):]); err != nil {
		return PeerID{}, fmt.Errorf("generate peer id: %s", err)
	}
	return p, nil
}

// String encodes p in hexadecimal notation.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// Bytes returns p as a raw 20-byte slice.
func (p PeerID) Bytes() []byte {
	return p[:]
}

// LessThan reports whether p sorts before o, used to break ties
// deterministically when choosing which peer initiates a simultaneous
// connection.
func (p PeerID) LessThan(o PeerID) bool {
	return bytes.Compare(p[:], o[:]) < 0
}
