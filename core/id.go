// Package core defines the shared types that flow across every engine
// component: download identifiers, option bags, status snapshots, and event
// variants. It has no dependencies on any transport or storage package so
// that every other package can depend on it without cycles.
package core

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrAmbiguousID is returned by Resolve when a short-form prefix matches more
// than one candidate id.
var ErrAmbiguousID = errors.New("id prefix is ambiguous")

// ErrIDNotFound is returned by Resolve when a short-form prefix matches no
// candidate id.
var ErrIDNotFound = errors.New("id not found")

// DownloadID is a 128-bit random identifier for a single download record. It
// has a long form (36-char hyphenated, RFC 4122 layout) and a short form
// (first 16 hex digits of the long form with hyphens removed); both resolve
// to the same record.
type DownloadID [16]byte

// NewDownloadID generates a fresh, cryptographically random DownloadID.
func NewDownloadID() (DownloadID, error) {
	var id DownloadID
	if _, err := rand.Read(id[:]); err != nil {
		return DownloadID{}, fmt.Errorf("generate download id: %s", err)
	}
	// Per RFC 4122 §4.4, mark the id as a random (version 4) UUID so the
	// long form renders as a standard UUID string.
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id, nil
}

// String returns the long form: 36-char hyphenated hex.
func (id DownloadID) String() string {
	var buf [36]byte
	hex.Encode(buf[0:8], id[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], id[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], id[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], id[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], id[10:16])
	return string(buf[:])
}

// Short returns the short form: the first 16 hex digits of the long form,
// with no hyphens.
func (id DownloadID) Short() string {
	return hex.EncodeToString(id[:8])
}

// ParseDownloadID parses the long form (32 hex digits, hyphens optional)
// back into a DownloadID. The short (16 hex digit) form is rejected: it
// does not carry the low 8 bytes, so it round-trips only when the original
// id is reconstructed via Resolve against a known record set; callers that
// only have a short form must use Resolve.
func ParseDownloadID(s string) (DownloadID, error) {
	clean := strings.ReplaceAll(s, "-", "")
	if len(clean) != 32 {
		return DownloadID{}, fmt.Errorf("invalid download id %q: expected 32 hex characters, got %d", s, len(clean))
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return DownloadID{}, fmt.Errorf("invalid download id %q: %s", s, err)
	}
	var id DownloadID
	copy(id[:], b)
	return id, nil
}

// Resolve finds the unique id among candidates whose long or short form is
// prefixed by s. It is the mechanism by which a user-supplied short prefix
// disambiguates to a full DownloadID.
func Resolve(s string, candidates []DownloadID) (DownloadID, error) {
	clean := strings.ToLower(strings.ReplaceAll(s, "-", ""))

	// An exact full-length id short-circuits the scan.
	if full, err := ParseDownloadID(s); err == nil {
		for _, c := range candidates {
			if c == full {
				return c, nil
			}
		}
	}

	var match *DownloadID
	for i := range candidates {
		c := candidates[i]
		long := strings.ReplaceAll(c.String(), "-", "")
		if strings.HasPrefix(long, clean) {
			if match != nil && *match != c {
				return DownloadID{}, ErrAmbiguousID
			}
			m := c
			match = &m
		}
	}
	if match == nil {
		return DownloadID{}, ErrIDNotFound
	}
	return *match, nil
}
