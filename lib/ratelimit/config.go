// Package ratelimit implements the engine's global and per-download
// bandwidth allocator: a token-bucket limiter shared by every transport
// (HTTP segment workers, peer connections) gated by a strict-priority,
// round-robin-within-band admission wheel.
package ratelimit

import "github.com/gosh-dl/gosh/utils/memsize"

// Direction distinguishes download (ingress) from upload (egress) traffic,
// each governed by its own global and per-download budget.
type Direction int

const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Config configures a Limiter. A nil *BytesPerSec field means unlimited.
type Config struct {
	GlobalDownloadBytesPerSec *int64 `yaml:"global_download_bytes_per_sec"`
	GlobalUploadBytesPerSec   *int64 `yaml:"global_upload_bytes_per_sec"`

	// MinBurst is the minimum bucket capacity regardless of rate, avoiding
	// pathologically small bursts at low configured rates.
	MinBurst int64 `yaml:"min_burst"`

	Disable bool `yaml:"disable"`
}

func (c Config) applyDefaults() Config {
	if c.MinBurst == 0 {
		c.MinBurst = int64(16 * memsize.KB)
	}
	return c
}
