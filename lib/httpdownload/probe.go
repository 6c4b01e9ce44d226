package httpdownload

import (
	"net/http"
	"strconv"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/utils/httputil"
)

// probeResult is what the probe phase learns about a remote
// resource: its size (if known), whether it honors byte ranges, and the
// URL it ultimately resolved to after redirects.
type probeResult struct {
	FinalURL      string
	TotalSize     int64 // -1 if unknown
	AcceptsRanges bool
}

// probe issues a HEAD request to learn size and range support, falling
// back to a ranged GET (bytes=0-0) when the server doesn't answer HEAD
// usefully — some origins 405 it or omit Content-Length. net/http's
// default client already follows up to 10 redirects, preserving GET/HEAD,
// which matches config.HTTP.MaxRedirects' default.
func probe(config Config, rawURL string, opts core.DownloadOptions) (*probeResult, error) {
	headers := buildHeaders(config, opts)

	resp, err := httputil.Head(rawURL,
		httputil.SendHeaders(headers),
		httputil.SendTimeout(config.HTTP.ConnectTimeout),
	)
	if err == nil {
		defer resp.Body.Close()
		if r := resultFromResponse(resp, rawURL); r.TotalSize >= 0 || r.AcceptsRanges {
			return r, nil
		}
	}

	rangedHeaders := withRange(headers, 0, 0)
	resp, err = httputil.Get(rawURL,
		httputil.SendHeaders(rangedHeaders),
		httputil.SendTimeout(config.HTTP.ConnectTimeout),
		httputil.SendAcceptedCodes(206, 200),
	)
	if err != nil {
		return nil, core.NewError(core.ErrNetwork, "probe %s: %s", rawURL, err)
	}
	defer resp.Body.Close()

	r := resultFromResponse(resp, rawURL)
	if resp.StatusCode == 206 {
		r.AcceptsRanges = true
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			r.TotalSize = total
		}
	}
	return r, nil
}

func resultFromResponse(resp *http.Response, rawURL string) *probeResult {
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	r := &probeResult{FinalURL: finalURL, TotalSize: -1}
	if resp.Header.Get("Accept-Ranges") == "bytes" {
		r.AcceptsRanges = true
	}
	if cl := resp.ContentLength; cl >= 0 {
		r.TotalSize = cl
	}
	return r
}

func parseContentRangeTotal(v string) (int64, bool) {
	// Format: "bytes start-end/total" or "bytes */total".
	i := len(v) - 1
	for i >= 0 && v[i] != '/' {
		i--
	}
	if i < 0 || i+1 >= len(v) {
		return 0, false
	}
	total, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}
