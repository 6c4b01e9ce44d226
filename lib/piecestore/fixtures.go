package piecestore

import (
	"crypto/sha1"
	"io/ioutil"
	"os"

	bencodego "github.com/jackpal/bencode-go"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/lib/bencode"
)

// BuildFixtureMetaInfo constructs a single-file torrent's raw metainfo
// bytes for data, with the given piece length, for test use. It round-trips
// through bencode.Parse so tests exercise the real info-hash computation.
func BuildFixtureMetaInfo(name string, data []byte, pieceLength int64) (*bencode.MetaInfo, []byte) {
	var pieces []byte
	for off := int64(0); off < int64(len(data)); off += pieceLength {
		end := off + pieceLength
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		sum := sha1.Sum(data[off:end])
		pieces = append(pieces, sum[:]...)
	}
	if len(data) == 0 {
		sum := sha1.Sum(nil)
		pieces = sum[:]
	}

	raw := map[string]interface{}{
		"info": map[string]interface{}{
			"name":         name,
			"piece length": pieceLength,
			"pieces":       string(pieces),
			"length":       int64(len(data)),
		},
	}
	var buf []byte
	w := &sliceWriter{buf: &buf}
	if err := bencodego.Marshal(w, raw); err != nil {
		panic(err)
	}

	mi, err := bencode.Parse(buf)
	if err != nil {
		panic(err)
	}
	return mi, buf
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// Fixture creates a Store backed by a temp directory for a single-file
// torrent over data, returning the store, the parsed MetaInfo, and a
// cleanup func.
func Fixture(data []byte, pieceLength, blockSize int64) (*Store, *bencode.MetaInfo, func()) {
	mi, _ := BuildFixtureMetaInfo("fixture.bin", data, pieceLength)

	dir, err := ioutil.TempDir("", "gosh-piecestore-test-")
	if err != nil {
		panic(err)
	}

	s, err := New(zap.NewNop().Sugar(), Config{}, dir, mi, blockSize)
	if err != nil {
		panic(err)
	}
	return s, mi, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}
