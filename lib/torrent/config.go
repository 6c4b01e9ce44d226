package torrent

import (
	"time"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/peerwire"
	"github.com/gosh-dl/gosh/lib/torrent/choker"
	"github.com/gosh-dl/gosh/lib/torrent/peerset"
	"github.com/gosh-dl/gosh/lib/torrent/tracker"
	"github.com/gosh-dl/gosh/utils/cache"
)

// defaultDHTBootstrap are well-known public bootstrap nodes, used when a
// session's Config doesn't override DHTBootstrap.
var defaultDHTBootstrap = []string{
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.utorrent.com:6881",
}

// Config aggregates every tunable a torrent session needs, assembled by
// the engine from a core.EngineConfig/core.TorrentConfig pair plus the
// discovery toggles (one struct per subsystem, zero-value defaulted).
type Config struct {
	Torrent core.TorrentConfig
	Peerset peerset.Config
	Choker  choker.Config
	Tier    tracker.TierConfig
	Conn    peerwire.Config

	// DialCache deduplicates peer addresses across discovery sources
	// (tracker, DHT, PEX, LPD), so an address seen from several of them in
	// quick succession is dialed once.
	DialCache cache.LRUCacheConfig

	ListenPort int
	EnableDHT  bool
	EnablePEX  bool
	EnableLPD  bool
	SeedRatio  float64

	DHTBootstrap []string

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration

	AnnounceInterval    time.Duration
	MaintenanceInterval time.Duration
	DiscoveryInterval   time.Duration
}

func (c Config) applyDefaults() Config {
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = 30 * time.Minute
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = 2 * time.Second
	}
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = 5 * time.Minute
	}
	if c.SeedRatio == 0 {
		c.SeedRatio = 1.0
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if len(c.DHTBootstrap) == 0 {
		c.DHTBootstrap = defaultDHTBootstrap
	}
	return c
}
