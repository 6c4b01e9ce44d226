// Package engine implements the Engine Scheduler: the public
// add/list/status/pause/resume/cancel/shutdown API, the admission actor that
// multiplexes a global concurrency cap across queued downloads, and the
// wiring between persistence, the rate limiter, the event bus, and the two
// transports (lib/httpdownload, lib/torrent).
package engine

import (
	"time"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/httpdownload"
	"github.com/gosh-dl/gosh/lib/persistence"
	"github.com/gosh-dl/gosh/lib/piecestore"
	"github.com/gosh-dl/gosh/lib/ratelimit"
	"github.com/gosh-dl/gosh/lib/torrent"
)

// Config aggregates the engine's own tunables on top of core.EngineConfig,
// one sub-config per subsystem the engine owns directly.
type Config struct {
	Engine      core.EngineConfig
	Persistence persistence.Config
	RateLimit   ratelimit.Config
	Torrent     torrent.Config
	PieceStore  piecestore.Config
	HTTP        httpdownload.Config

	// ListenAddr is the shared TCP address the engine listens on for
	// inbound BitTorrent peer connections, demultiplexed by info hash to
	// the right Session. Empty means ":6881", the conventional default
	// BitTorrent port.
	ListenAddr string

	// AdmissionTick is how often the admission actor re-evaluates the
	// Queued set. Admission is also driven eagerly on every add/cancel/
	// priority-change/state-change, so this tick is a backstop, not the
	// sole trigger.
	AdmissionTick time.Duration

	// ShutdownGracePeriod bounds how long Shutdown waits for transports
	// to checkpoint before forcing termination. Default 10s.
	ShutdownGracePeriod time.Duration
}

func (c Config) applyDefaults() Config {
	c.Engine.ApplyDefaults()
	if c.ListenAddr == "" {
		c.ListenAddr = ":6881"
	}
	if c.AdmissionTick == 0 {
		c.AdmissionTick = time.Second
	}
	if c.ShutdownGracePeriod == 0 {
		c.ShutdownGracePeriod = 10 * time.Second
	}
	c.Torrent.ListenPort = listenPort(c.ListenAddr)
	c.Torrent.EnableDHT = c.Engine.EnableDHT
	c.Torrent.EnablePEX = c.Engine.EnablePEX
	c.Torrent.EnableLPD = c.Engine.EnableLPD
	c.Torrent.Torrent = c.Engine.Torrent
	c.Torrent.SeedRatio = c.Engine.SeedRatio
	c.HTTP.HTTP = c.Engine.HTTP
	c.HTTP.MaxConnectionsPerDownload = c.Engine.MaxConnectionsPerDownload
	c.HTTP.MinSegmentSize = c.Engine.MinSegmentSize
	c.HTTP.UserAgent = c.Engine.UserAgent
	if c.Persistence.Path == "" {
		c.Persistence.Path = c.Engine.DatabasePath
	}
	if c.RateLimit.GlobalDownloadBytesPerSec == nil {
		c.RateLimit.GlobalDownloadBytesPerSec = c.Engine.GlobalDownloadLimit
	}
	if c.RateLimit.GlobalUploadBytesPerSec == nil {
		c.RateLimit.GlobalUploadBytesPerSec = c.Engine.GlobalUploadLimit
	}
	return c
}

func listenPort(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port := 0
			for _, d := range addr[i+1:] {
				if d < '0' || d > '9' {
					return 0
				}
				port = port*10 + int(d-'0')
			}
			return port
		}
	}
	return 0
}
