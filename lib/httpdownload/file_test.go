package httpdownload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenOutputFilePreallocatesSparsely(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.bin")

	f, err := openOutputFile(path, 1<<20)
	require.NoError(t, err)
	defer f.close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), info.Size())
}

func TestOutputFileWriteAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	f, err := openOutputFile(path, 16)
	require.NoError(t, err)
	defer f.close()

	require.NoError(t, f.writeAt(8, []byte("12345678")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("12345678"), got[8:16])
}
