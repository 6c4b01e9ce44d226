package piecestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gosh-dl/gosh/lib/bencode"
)

// fileSpan is one declared file's placement within the torrent's flat byte
// address space — the same concatenated-files model BEP-3 multi-file
// torrents use, and the model a single-file torrent degenerates to with one
// span.
type fileSpan struct {
	f      *os.File
	path   string
	start  int64 // offset of this file's first byte in the torrent's flat space
	length int64
}

// layout maps a (pieceIndex, blockOffset) pair in a torrent's flat address
// space onto the declared files backing it, opening (and sparsely
// preallocating) every file up front so writes never need to grow a file
// mid-flight.
type layout struct {
	saveDir string
	spans   []fileSpan
	total   int64
}

// openLayout creates (if absent) and sparsely preallocates every file in
// files under saveDir "Pre-allocates files sparsely to their
// declared sizes."
func openLayout(saveDir string, files []bencode.FileEntry) (*layout, error) {
	if err := os.MkdirAll(saveDir, 0775); err != nil {
		return nil, fmt.Errorf("piecestore: create save dir: %s", err)
	}

	l := &layout{saveDir: saveDir}
	var offset int64
	for _, fe := range files {
		rel := filepath.Join(fe.Path...)
		full := filepath.Join(saveDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0775); err != nil {
			return nil, fmt.Errorf("piecestore: create file dir: %s", err)
		}
		f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0664)
		if err != nil {
			return nil, fmt.Errorf("piecestore: open %s: %s", full, err)
		}
		if fe.Length > 0 {
			if err := f.Truncate(fe.Length); err != nil {
				f.Close()
				return nil, fmt.Errorf("piecestore: preallocate %s: %s", full, err)
			}
		}
		l.spans = append(l.spans, fileSpan{f: f, path: full, start: offset, length: fe.Length})
		offset += fe.Length
	}
	l.total = offset
	return l, nil
}

func (l *layout) close() error {
	var firstErr error
	for _, s := range l.spans {
		if err := s.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeAt writes data at absolute offset off in the torrent's flat address
// space, splitting the write across every underlying file span it
// straddles — required for pieces whose byte range crosses a file
// boundary "Pieces straddling a boundary are downloaded so the
// selected bytes are correct."
func (l *layout) writeAt(off int64, data []byte) error {
	if off < 0 || off+int64(len(data)) > l.total {
		return ErrBlockOutOfRange
	}
	for _, s := range l.spans {
		spanEnd := s.start + s.length
		if off >= spanEnd || off+int64(len(data)) <= s.start {
			continue
		}
		lo := off
		if lo < s.start {
			lo = s.start
		}
		hi := off + int64(len(data))
		if hi > spanEnd {
			hi = spanEnd
		}
		chunk := data[lo-off : hi-off]
		if _, err := s.f.WriteAt(chunk, lo-s.start); err != nil {
			return fmt.Errorf("piecestore: write %s: %s", s.path, err)
		}
	}
	return nil
}

// readAt reads length bytes starting at absolute offset off, assembling the
// result across every underlying file span it straddles.
func (l *layout) readAt(off, length int64) ([]byte, error) {
	if off < 0 || off+length > l.total {
		return nil, ErrBlockOutOfRange
	}
	buf := make([]byte, length)
	for _, s := range l.spans {
		spanEnd := s.start + s.length
		if off >= spanEnd || off+length <= s.start {
			continue
		}
		lo := off
		if lo < s.start {
			lo = s.start
		}
		hi := off + length
		if hi > spanEnd {
			hi = spanEnd
		}
		if _, err := s.f.ReadAt(buf[lo-off:hi-off], lo-s.start); err != nil {
			return nil, fmt.Errorf("piecestore: read %s: %s", s.path, err)
		}
	}
	return buf, nil
}

// overlapsSelected reports whether any byte in [off, off+length) lies
// within a selected file, used by the piece picker to skip pieces wholly
// outside the selected-file set while still downloading boundary-straddling
// pieces.
func (l *layout) overlapsSelected(off, length int64, selected map[int]bool) bool {
	for i, s := range l.spans {
		if !selected[i] {
			continue
		}
		spanEnd := s.start + s.length
		if off < spanEnd && off+length > s.start {
			return true
		}
	}
	return false
}

// paths returns every underlying file's absolute path, in declared order.
func (l *layout) paths() []string {
	out := make([]string, len(l.spans))
	for i, s := range l.spans {
		out[i] = s.path
	}
	return out
}

// sizeOf returns the declared length of span i.
func (l *layout) sizeOf(i int) int64 {
	return l.spans[i].length
}
