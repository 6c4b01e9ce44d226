package httpdownload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestVerifyChecksumMD5Matches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	// md5("hello world")
	err := verifyChecksum(path, core.MD5Checksum("5eb63bbbe01eeed093cb22bb8f5acdc3"))
	require.NoError(t, err)
}

func TestVerifyChecksumMismatchIsNonRecoverable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	err := verifyChecksum(path, core.MD5Checksum("deadbeef"))
	require.Error(t, err)

	cerr, ok := err.(*core.Error)
	require.True(t, ok)
	require.Equal(t, core.ErrChecksumMismatch, cerr.Kind)
	require.False(t, cerr.Recoverable)
}
