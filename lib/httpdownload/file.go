package httpdownload

import (
	"os"
	"path/filepath"
)

// outputFile wraps the single destination file an HTTP download writes
// into, sparsely preallocated to its known total size the same way
// piecestore's layout preallocates torrent file spans.
type outputFile struct {
	f    *os.File
	path string
}

func openOutputFile(path string, totalSize int64) (*outputFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0664)
	if err != nil {
		return nil, err
	}
	if totalSize > 0 {
		if err := f.Truncate(totalSize); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &outputFile{f: f, path: path}, nil
}

func (o *outputFile) writeAt(offset int64, data []byte) error {
	_, err := o.f.WriteAt(data, offset)
	return err
}

func (o *outputFile) close() error {
	return o.f.Close()
}
