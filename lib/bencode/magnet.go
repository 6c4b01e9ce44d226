package bencode

import (
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"

	"github.com/gosh-dl/gosh/core"
)

// Magnet is the parsed form of a magnet URI: `xt=urn:btih:<hash>&dn=<name>
// &tr=<tracker>&ws=<webseed>`, URL-decoded/
type Magnet struct {
	InfoHash core.InfoHash
	Name     string
	Trackers []string
	WebSeeds []string
}

// ParseMagnet parses a magnet URI. The info-hash may be 40-character hex or
// 32-character base32, per BEP-9.
func ParseMagnet(uri string) (*Magnet, error) {
	if !strings.HasPrefix(uri, "magnet:?") {
		return nil, fmt.Errorf("bencode: not a magnet uri: %q", uri)
	}
	query, err := url.ParseQuery(strings.TrimPrefix(uri, "magnet:?"))
	if err != nil {
		return nil, fmt.Errorf("bencode: parse magnet query: %s", err)
	}

	var hash core.InfoHash
	found := false
	for _, xt := range query["xt"] {
		const prefix = "urn:btih:"
		if !strings.HasPrefix(xt, prefix) {
			continue
		}
		enc := strings.TrimPrefix(xt, prefix)
		h, err := decodeInfoHash(enc)
		if err != nil {
			return nil, err
		}
		hash = h
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("bencode: magnet uri missing xt=urn:btih: parameter")
	}

	return &Magnet{
		InfoHash: hash,
		Name:     query.Get("dn"),
		Trackers: query["tr"],
		WebSeeds: query["ws"],
	}, nil
}

func decodeInfoHash(enc string) (core.InfoHash, error) {
	switch len(enc) {
	case 40:
		return core.NewInfoHashFromHex(enc)
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(enc))
		if err != nil {
			return core.InfoHash{}, fmt.Errorf("bencode: decode base32 info hash: %s", err)
		}
		if len(b) != 20 {
			return core.InfoHash{}, fmt.Errorf("bencode: decoded base32 info hash has %d bytes, want 20", len(b))
		}
		var h core.InfoHash
		copy(h[:], b)
		return h, nil
	default:
		return core.InfoHash{}, fmt.Errorf("bencode: info hash must be 40-char hex or 32-char base32, got %d chars", len(enc))
	}
}
