package httpdownload

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/gosh-dl/gosh/core"
)

// verifyChecksum streams the completed file through the declared algorithm
// and compares against the expected hex digest completion
// step. A mismatch is a fatal (non-recoverable) ErrChecksumMismatch.
func verifyChecksum(path string, expected core.ExpectedChecksum) error {
	f, err := os.Open(path)
	if err != nil {
		return core.NewError(core.ErrIO, "open %s for checksum: %s", path, err)
	}
	defer f.Close()

	var h hash.Hash
	switch expected.Algorithm {
	case core.ChecksumSHA256:
		h = sha256.New()
	default:
		h = md5.New()
	}

	if _, err := io.Copy(h, f); err != nil {
		return core.NewError(core.ErrIO, "read %s for checksum: %s", path, err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected.HexDigest {
		return core.NewError(core.ErrChecksumMismatch,
			"%s mismatch: expected %s, got %s", expected.Algorithm, expected.HexDigest, actual).
			WithRecoverable(false)
	}
	return nil
}
