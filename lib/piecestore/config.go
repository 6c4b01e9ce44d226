// Package piecestore implements the file-backed, write-through block cache
// for a torrent: sparse preallocation to declared file sizes, WriteBlock
// with full-piece SHA-1 verification against metainfo, and ReadBlock for
// serving upload requests, backed by a bounded in-memory LRU of
// recently-verified piece bytes.
package piecestore

import "github.com/gosh-dl/gosh/utils/memsize"

// Config configures a Store.
type Config struct {
	// ReadCacheSize bounds the in-memory cache of recently read/verified
	// piece bytes. Default 64 MiB.
	ReadCacheSize int64 `yaml:"read_cache_size"`
}

func (c Config) applyDefaults() Config {
	if c.ReadCacheSize == 0 {
		c.ReadCacheSize = 64 * int64(memsize.MB)
	}
	return c
}
