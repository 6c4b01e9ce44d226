package httpdownload

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gosh-dl/gosh/core"
)

// buildHeaders assembles the request headers shared by probe and segment
// GETs: the configured default User-Agent (overridable per-download),
// Referer, cookies joined into a single Cookie header, and any caller-
// supplied extra headers.
func buildHeaders(config Config, opts core.DownloadOptions) http.Header {
	h := make(http.Header)

	ua := config.UserAgent
	if opts.UserAgent != "" {
		ua = opts.UserAgent
	}
	if ua != "" {
		h.Set("User-Agent", ua)
	}
	if opts.Referer != "" {
		h.Set("Referer", opts.Referer)
	}
	if len(opts.Cookies) > 0 {
		h.Set("Cookie", strings.Join(opts.Cookies, "; "))
	}
	for _, hdr := range opts.Headers {
		h.Set(hdr.Name, hdr.Value)
	}
	return h
}

func withRange(h http.Header, start, end int64) http.Header {
	out := h.Clone()
	if end >= 0 {
		out.Set("Range", rangeHeader(start, end))
	} else {
		out.Set("Range", rangeHeaderOpenEnded(start))
	}
	return out
}

func rangeHeader(start, end int64) string {
	return "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}

func rangeHeaderOpenEnded(start int64) string {
	return "bytes=" + strconv.FormatInt(start, 10) + "-"
}
