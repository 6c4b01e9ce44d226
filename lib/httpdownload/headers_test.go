package httpdownload

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestBuildHeadersDefaultsAndOverrides(t *testing.T) {
	config := Config{UserAgent: "gosh-dl/1.0"}.applyDefaults()

	h := buildHeaders(config, core.DownloadOptions{})
	require.Equal(t, "gosh-dl/1.0", h.Get("User-Agent"))

	h = buildHeaders(config, core.DownloadOptions{
		UserAgent: "custom-agent",
		Referer:   "https://example.com",
		Cookies:   []string{"a=1", "b=2"},
		Headers:   []core.Header{{Name: "X-Test", Value: "yes"}},
	})
	require.Equal(t, "custom-agent", h.Get("User-Agent"))
	require.Equal(t, "https://example.com", h.Get("Referer"))
	require.Equal(t, "a=1; b=2", h.Get("Cookie"))
	require.Equal(t, "yes", h.Get("X-Test"))
}

func TestWithRangeBoundedAndOpenEnded(t *testing.T) {
	base := buildHeaders(Config{}.applyDefaults(), core.DownloadOptions{})

	bounded := withRange(base, 100, 199)
	require.Equal(t, "bytes=100-199", bounded.Get("Range"))

	openEnded := withRange(base, 50, -1)
	require.Equal(t, "bytes=50-", openEnded.Get("Range"))

	// withRange must not mutate the headers it was given.
	require.Empty(t, base.Get("Range"))
}

func TestParseContentRangeTotal(t *testing.T) {
	total, ok := parseContentRangeTotal("bytes 0-99/1000")
	require.True(t, ok)
	require.Equal(t, int64(1000), total)

	_, ok = parseContentRangeTotal("garbage")
	require.False(t, ok)
}
