// Package bencode parses the bencode grammar: torrent metafiles and
// magnet URIs, computing the info-hash over the info-dictionary's raw
// source bytes rather than a re-encoding, per BEP-3.
package bencode

import (
	"bytes"
	"fmt"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/gosh-dl/gosh/core"
)

// FileEntry describes one file within a torrent's declared layout. A
// single-file torrent is modeled as one FileEntry whose Path is the
// torrent's name.
type FileEntry struct {
	Path   []string
	Length int64
}

// rawInfo mirrors the bencode info-dictionary schema for struct-tag
// unmarshal. Single-file and multi-file torrents are distinguished by
// whether Length or Files is populated.
type rawInfo struct {
	Name        string    `bencode:"name"`
	PieceLength int64     `bencode:"piece length"`
	Pieces      string    `bencode:"pieces"`
	Length      int64     `bencode:"length,omitempty"`
	Files       []rawFile `bencode:"files,omitempty"`
	Private     int64     `bencode:"private,omitempty"`
}

type rawFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

type rawMetaInfo struct {
	Info         rawInfo     `bencode:"info"`
	Announce     string      `bencode:"announce,omitempty"`
	AnnounceList [][]string  `bencode:"announce-list,omitempty"`
	URLList      interface{} `bencode:"url-list,omitempty"`
}

// MetaInfo is the parsed, queryable form of a torrent metafile.
type MetaInfo struct {
	infoHash     core.InfoHash
	name         string
	pieceLength  int64
	pieces       []byte // concatenated 20-byte SHA-1s
	files        []FileEntry
	private      bool
	announce     string
	announceList [][]string
	urlList      []string
}

// Parse decodes a torrent metafile, computing its info-hash from the raw
// info-dictionary bytes found within data.
func Parse(data []byte) (*MetaInfo, error) {
	var raw rawMetaInfo
	if err := bencodego.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, fmt.Errorf("bencode: unmarshal metainfo: %s", err)
	}

	rawInfoBytes, err := rawDictValue(data, "info")
	if err != nil {
		return nil, fmt.Errorf("bencode: locate info dict: %s", err)
	}

	if len(raw.Info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("bencode: pieces field is not a multiple of 20 bytes")
	}

	var files []FileEntry
	if len(raw.Info.Files) > 0 {
		for _, f := range raw.Info.Files {
			files = append(files, FileEntry{Path: f.Path, Length: f.Length})
		}
	} else {
		files = []FileEntry{{Path: []string{raw.Info.Name}, Length: raw.Info.Length}}
	}

	return &MetaInfo{
		infoHash:     core.NewInfoHashFromRawInfoDict(rawInfoBytes),
		name:         raw.Info.Name,
		pieceLength:  raw.Info.PieceLength,
		pieces:       []byte(raw.Info.Pieces),
		files:        files,
		private:      raw.Info.Private != 0,
		announce:     raw.Announce,
		announceList: raw.AnnounceList,
		urlList:      normalizeURLList(raw.URLList),
	}, nil
}

// ParseInfoDict builds a MetaInfo directly from raw info-dictionary bytes,
// with no enclosing announce/announce-list wrapper. This is the shape BEP-9
// ut_metadata reassembles for magnet links: the peer swarm only ever
// transfers the info dictionary, never a full .torrent file.
func ParseInfoDict(data []byte) (*MetaInfo, error) {
	var raw rawInfo
	if err := bencodego.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, fmt.Errorf("bencode: unmarshal info dict: %s", err)
	}
	if len(raw.Pieces)%20 != 0 {
		return nil, fmt.Errorf("bencode: pieces field is not a multiple of 20 bytes")
	}

	var files []FileEntry
	if len(raw.Files) > 0 {
		for _, f := range raw.Files {
			files = append(files, FileEntry{Path: f.Path, Length: f.Length})
		}
	} else {
		files = []FileEntry{{Path: []string{raw.Name}, Length: raw.Length}}
	}

	return &MetaInfo{
		infoHash:    core.NewInfoHashFromRawInfoDict(data),
		name:        raw.Name,
		pieceLength: raw.PieceLength,
		pieces:      []byte(raw.Pieces),
		files:       files,
		private:     raw.Private != 0,
	}, nil
}

// normalizeURLList accepts BEP-19's url-list in either its single-string or
// list-of-strings form and returns a uniform []string.
func normalizeURLList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// InfoHash returns the torrent's identity hash.
func (mi *MetaInfo) InfoHash() core.InfoHash { return mi.infoHash }

// Name returns the torrent's declared name.
func (mi *MetaInfo) Name() string { return mi.name }

// PieceLength returns the declared piece length; the final piece may be
// shorter (see PieceLengthAt).
func (mi *MetaInfo) PieceLength() int64 { return mi.pieceLength }

// NumPieces returns the number of 20-byte SHA-1 sums in the pieces field.
func (mi *MetaInfo) NumPieces() int { return len(mi.pieces) / 20 }

// PieceSHA1 returns the expected SHA-1 digest of piece i. Panics if i is
// out of range.
func (mi *MetaInfo) PieceSHA1(i int) []byte {
	return mi.pieces[i*20 : i*20+20]
}

// TotalLength returns the sum of every file's length.
func (mi *MetaInfo) TotalLength() int64 {
	var total int64
	for _, f := range mi.files {
		total += f.Length
	}
	return total
}

// PieceLengthAt returns the true length of piece i, accounting for the
// final, possibly-shorter piece.
func (mi *MetaInfo) PieceLengthAt(i int) int64 {
	if i == mi.NumPieces()-1 {
		return mi.TotalLength() - mi.pieceLength*int64(i)
	}
	return mi.pieceLength
}

// Files returns the torrent's declared file list. A single-file torrent
// returns one entry.
func (mi *MetaInfo) Files() []FileEntry { return mi.files }

// Private reports whether the torrent is marked private (BEP-27): DHT/PEX
// must not be used to find peers.
func (mi *MetaInfo) Private() bool { return mi.private }

// Announce returns the primary announce URL, if any.
func (mi *MetaInfo) Announce() string { return mi.announce }

// AnnounceList returns the BEP-12 announce tiers, if any.
func (mi *MetaInfo) AnnounceList() [][]string { return mi.announceList }

// URLList returns the BEP-19 web seed URLs, if any.
func (mi *MetaInfo) URLList() []string { return mi.urlList }
