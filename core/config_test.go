package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestEngineConfigApplyDefaults(t *testing.T) {
	require := require.New(t)

	var c EngineConfig
	c.ApplyDefaults()

	require.Equal(5, c.MaxConcurrentDownloads)
	require.Equal(8, c.MaxConnectionsPerDownload)
	require.EqualValues(1<<20, c.MinSegmentSize)
	require.Equal("gosh-dl/1.0", c.UserAgent)
	require.Equal(55, c.MaxPeers)
	require.Equal(1.0, c.SeedRatio)
	require.Equal(30*time.Second, c.HTTP.ConnectTimeout)
	require.Equal(10, c.Torrent.RequestPipeline)
}

func TestEngineConfigApplyDefaultsPreservesExplicitValues(t *testing.T) {
	require := require.New(t)

	c := EngineConfig{MaxConcurrentDownloads: 42}
	c.ApplyDefaults()

	require.Equal(42, c.MaxConcurrentDownloads)
	// Untouched fields still pick up defaults.
	require.Equal(8, c.MaxConnectionsPerDownload)
}

func TestEngineConfigYAML(t *testing.T) {
	require := require.New(t)

	raw := `
download_dir: /tmp/downloads
max_concurrent_downloads: 3
min_segment_size: 4194304
global_download_limit: 1048576
enable_dht: false
seed_ratio: 2.5
`
	var c EngineConfig
	require.NoError(yaml.Unmarshal([]byte(raw), &c))
	c.ApplyDefaults()

	require.Equal("/tmp/downloads", c.DownloadDir)
	require.Equal(3, c.MaxConcurrentDownloads)
	require.EqualValues(4<<20, c.MinSegmentSize)
	require.NotNil(c.GlobalDownloadLimit)
	require.EqualValues(1<<20, *c.GlobalDownloadLimit)
	require.False(c.EnableDHT)
	require.Equal(2.5, c.SeedRatio)
	// Fields absent from the document still pick up defaults.
	require.Equal(8, c.MaxConnectionsPerDownload)
	require.Equal(55, c.MaxPeers)
}
