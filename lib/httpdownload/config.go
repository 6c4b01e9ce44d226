package httpdownload

import (
	"github.com/gosh-dl/gosh/core"
)

// Config aggregates every tunable the HTTP Segmented Downloader needs,
// assembled by the engine from a core.EngineConfig the way torrent.Config
// is assembled for the Torrent Session.
type Config struct {
	HTTP core.HTTPConfig

	MaxConnectionsPerDownload int
	MinSegmentSize            int64
	UserAgent                 string
}

func (c Config) applyDefaults() Config {
	d := core.DefaultEngineConfig()
	if c.MaxConnectionsPerDownload == 0 {
		c.MaxConnectionsPerDownload = d.MaxConnectionsPerDownload
	}
	if c.MinSegmentSize == 0 {
		c.MinSegmentSize = d.MinSegmentSize
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.HTTP.ConnectTimeout == 0 && c.HTTP.ReadTimeout == 0 && c.HTTP.MaxRedirects == 0 {
		c.HTTP = core.DefaultHTTPConfig()
	}
	return c
}
