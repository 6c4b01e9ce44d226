package persistence

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/gosh-dl/gosh/core"
)

// Fixture returns a temporary Store and a cleanup func for test use.
func Fixture() (*Store, func()) {
	tmpdir, err := ioutil.TempDir("", "gosh-persistence-test-")
	if err != nil {
		panic(err)
	}
	cleanup := func() { os.RemoveAll(tmpdir) }

	s, err := Open(Config{Path: filepath.Join(tmpdir, "test.db")})
	if err != nil {
		cleanup()
		panic(err)
	}
	return s, func() {
		s.Close()
		cleanup()
	}
}

// RecordFixture returns a Record populated with reasonable non-zero values
// for test use.
func RecordFixture() *Record {
	return &Record{
		ID:      core.DownloadIDFixture(),
		Kind:    core.KindHTTP,
		Options: core.DownloadOptionsFixture(),
		State:   core.StateQueued,
		Source:  []byte("https://example.test/fixture.bin"),
	}
}
