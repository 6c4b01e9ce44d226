package core

import "time"

// EngineConfig is the fully materialized configuration the front-end
// constructs and passes to the engine at startup. The engine never reads it
// from disk — the front-end owns config-file I/O.
type EngineConfig struct {
	DownloadDir               string        `yaml:"download_dir"`
	DatabasePath              string        `yaml:"database_path"`
	MaxConcurrentDownloads    int           `yaml:"max_concurrent_downloads"`
	MaxConnectionsPerDownload int           `yaml:"max_connections_per_download"`
	MinSegmentSize            int64         `yaml:"min_segment_size"`
	GlobalDownloadLimit       *int64        `yaml:"global_download_limit"`
	GlobalUploadLimit         *int64        `yaml:"global_upload_limit"`
	UserAgent                 string        `yaml:"user_agent"`
	EnableDHT                 bool          `yaml:"enable_dht"`
	EnablePEX                 bool          `yaml:"enable_pex"`
	EnableLPD                 bool          `yaml:"enable_lpd"`
	MaxPeers                  int           `yaml:"max_peers"`
	SeedRatio                 float64       `yaml:"seed_ratio"`
	HTTP                      HTTPConfig    `yaml:"http"`
	Torrent                   TorrentConfig `yaml:"torrent"`
}

// HTTPConfig configures the segmented HTTP downloader.
type HTTPConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	MaxRedirects       int           `yaml:"max_redirects"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay"`
	AcceptInvalidCerts bool          `yaml:"accept_invalid_certs"`
	ProxyURL           string        `yaml:"proxy_url"`
}

// TorrentConfig configures per-torrent session behavior.
type TorrentConfig struct {
	MaxPeers           int           `yaml:"max_peers"`
	RequestPipeline    int           `yaml:"request_pipeline"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	EndgameThreshold   int           `yaml:"endgame_threshold"`
	ChokeRoundInterval time.Duration `yaml:"choke_round_interval"`
	OptimisticInterval time.Duration `yaml:"optimistic_interval"`
}

// DefaultEngineConfig returns the defaults surfaced by the reference CLI's
// EngineSettings: a conservative starting point a front-end may override
// field-by-field.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentDownloads:    5,
		MaxConnectionsPerDownload: 8,
		MinSegmentSize:            1 << 20, // 1 MiB
		UserAgent:                 "gosh-dl/1.0",
		EnableDHT:                 true,
		EnablePEX:                 true,
		EnableLPD:                 true,
		MaxPeers:                  55,
		SeedRatio:                 1.0,
		HTTP:                      DefaultHTTPConfig(),
		Torrent:                   DefaultTorrentConfig(),
	}
}

// DefaultHTTPConfig returns the reference CLI's HttpConfig defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxRedirects:   10,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		MaxRetryDelay:  30 * time.Second,
	}
}

// DefaultTorrentConfig returns sane per-session defaults: 55 peers, 10
// outstanding requests per peer, 30s request timeout.
func DefaultTorrentConfig() TorrentConfig {
	return TorrentConfig{
		MaxPeers:           55,
		RequestPipeline:    10,
		RequestTimeout:     30 * time.Second,
		EndgameThreshold:   32,
		ChokeRoundInterval: 10 * time.Second,
		OptimisticInterval: 30 * time.Second,
	}
}

// ApplyDefaults fills any zero-valued field of c with the corresponding
// DefaultEngineConfig value, following the applyDefaults convention used
// throughout the ambient config stack.
func (c *EngineConfig) ApplyDefaults() {
	d := DefaultEngineConfig()
	if c.MaxConcurrentDownloads == 0 {
		c.MaxConcurrentDownloads = d.MaxConcurrentDownloads
	}
	if c.MaxConnectionsPerDownload == 0 {
		c.MaxConnectionsPerDownload = d.MaxConnectionsPerDownload
	}
	if c.MinSegmentSize == 0 {
		c.MinSegmentSize = d.MinSegmentSize
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.MaxPeers == 0 {
		c.MaxPeers = d.MaxPeers
	}
	if c.SeedRatio == 0 {
		c.SeedRatio = d.SeedRatio
	}
	c.HTTP.applyDefaults()
	c.Torrent.applyDefaults()
}

func (c *HTTPConfig) applyDefaults() {
	d := DefaultHTTPConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = d.MaxRedirects
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
}

func (c *TorrentConfig) applyDefaults() {
	d := DefaultTorrentConfig()
	if c.MaxPeers == 0 {
		c.MaxPeers = d.MaxPeers
	}
	if c.RequestPipeline == 0 {
		c.RequestPipeline = d.RequestPipeline
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.EndgameThreshold == 0 {
		c.EndgameThreshold = d.EndgameThreshold
	}
	if c.ChokeRoundInterval == 0 {
		c.ChokeRoundInterval = d.ChokeRoundInterval
	}
	if c.OptimisticInterval == 0 {
		c.OptimisticInterval = d.OptimisticInterval
	}
}

// GlobalStats is the snapshot returned by Engine.GlobalStats(), distinct
// from the per-download view returned by Status.
type GlobalStats struct {
	ActiveDownloads    int
	QueuedDownloads    int
	TotalDownloadSpeed float64
	TotalUploadSpeed   float64
	TotalPeers         int
}
