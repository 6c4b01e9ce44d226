package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// InfoHash is the 20-byte SHA-1 hash of a torrent's raw bencoded
// info-dictionary. It is the authoritative identifier for a torrent, and
// must be computed over the dictionary's original source bytes, never a
// re-encoding of the parsed structure.
type InfoHash [20]byte

// NewInfoHashFromHex converts a 40-character hex string into an InfoHash.
func NewInfoHashFromHex(s string) (InfoHash, error) {
	if len(s) != 40 {
		return InfoHash{}, fmt.Errorf("invalid info hash: expected 40 characters, got %d", len(s))
	}
	var h InfoHash
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
	}
	if n != 20 {
		return InfoHash{}, fmt.Errorf("invariant violation: expected 20 bytes, got %d", n)
	}
	return h, nil
}

// NewInfoHashFromRawInfoDict computes an InfoHash by SHA-1 hashing raw, the
// exact bencoded bytes of an info-dictionary as they appeared in the
// torrent file. Callers must not re-encode the dictionary before calling
// this — info-hash identity depends on preserving the original byte layout.
func NewInfoHashFromRawInfoDict(raw []byte) InfoHash {
	var h InfoHash
	sum := sha1.Sum(raw)
	copy(h[:], sum[:])
	return h
}

// Bytes returns h as a raw 20-byte slice.
func (h InfoHash) Bytes() []byte {
	return h[:]
}

// Hex returns h as a 40-character lowercase hex string.
func (h InfoHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h InfoHash) String() string {
	return h.Hex()
}

// IsZero reports whether h is the zero value, i.e. not yet resolved (a
// magnet download before its info-hash field is populated from the URI, or
// before metainfo is parsed).
func (h InfoHash) IsZero() bool {
	return h == InfoHash{}
}
