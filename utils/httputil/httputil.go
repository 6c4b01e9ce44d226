// Package httputil wraps net/http with the functional-options send pattern
// and retry/backoff semantics shared by the HTTP Segmented Downloader and the
// BitTorrent HTTP tracker client.
package httputil

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
)

// StatusError occurs when a successful send receives an unexpected response
// status code.
type StatusError struct {
	Method       string
	URL          string
	Status       int
	Header       http.Header
	ResponseDump string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

// NetworkError occurs when the request never reached the server.
type NetworkError struct {
	error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("network error: %s", e.error)
}

type sendOptions struct {
	transport     http.RoundTripper
	timeout       time.Duration
	acceptedCodes map[int]bool
	retry         *retryOptions
	header        http.Header
	body          io.Reader
	tlsConfig     *tls.Config
}

type retryOptions struct {
	backoff    backoff.BackOff
	extraCodes map[int]bool
}

// shouldRetry reports whether status triggers another attempt: any 5xx is
// always retryable, plus whatever RetryCodes adds.
func (r *retryOptions) shouldRetry(status int) bool {
	if status >= 500 && status < 600 {
		return true
	}
	return r.extraCodes[status]
}

// SendOption configures a send.
type SendOption func(*sendOptions)

// RetryOption configures retry behavior within SendRetry.
type RetryOption func(*retryOptions)

// SendTransport overrides the http.RoundTripper used for the request.
func SendTransport(t http.RoundTripper) SendOption {
	return func(o *sendOptions) { o.transport = t }
}

// SendTimeout sets a per-attempt timeout.
func SendTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

// SendAcceptedCodes overrides the set of status codes considered successful.
// Default is any 2xx.
func SendAcceptedCodes(codes ...int) SendOption {
	return func(o *sendOptions) {
		o.acceptedCodes = make(map[int]bool, len(codes))
		for _, c := range codes {
			o.acceptedCodes[c] = true
		}
	}
}

// SendHeaders sets additional request headers.
func SendHeaders(h http.Header) SendOption {
	return func(o *sendOptions) { o.header = h }
}

// SendBody sets the request body.
func SendBody(body io.Reader) SendOption {
	return func(o *sendOptions) { o.body = body }
}

// SendTLS sets a custom TLS configuration, e.g. for accept_invalid_certs.
func SendTLS(c *tls.Config) SendOption {
	return func(o *sendOptions) { o.tlsConfig = c }
}

// SendRetry enables retrying on 5xx responses and network errors.
func SendRetry(opts ...RetryOption) SendOption {
	return func(o *sendOptions) {
		r := &retryOptions{
			backoff:    backoff.NewConstantBackOff(time.Second),
			extraCodes: map[int]bool{},
		}
		for _, opt := range opts {
			opt(r)
		}
		o.retry = r
	}
}

// RetryBackoff overrides the backoff.BackOff policy used between retries.
func RetryBackoff(b backoff.BackOff) RetryOption {
	return func(r *retryOptions) { r.backoff = b }
}

// RetryCodes adds status codes that trigger a retry, on top of every 5xx.
func RetryCodes(codes ...int) RetryOption {
	return func(r *retryOptions) {
		for _, c := range codes {
			r.extraCodes[c] = true
		}
	}
}

func newClient(o *sendOptions) *http.Client {
	transport := o.transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if o.tlsConfig != nil {
			t.TLSClientConfig = o.tlsConfig
		}
		transport = t
	}
	return &http.Client{
		Transport: transport,
		Timeout:   o.timeout,
	}
}

func send(method, rawURL string, opts ...SendOption) (*http.Response, error) {
	o := &sendOptions{
		acceptedCodes: map[int]bool{},
	}
	for _, opt := range opts {
		opt(o)
	}

	do := func() (*http.Response, error) {
		req, err := http.NewRequest(method, rawURL, o.body)
		if err != nil {
			return nil, fmt.Errorf("new request: %s", err)
		}
		if o.header != nil {
			req.Header = o.header
		}
		resp, err := newClient(o).Do(req)
		if err != nil {
			return nil, NetworkError{err}
		}
		if len(o.acceptedCodes) == 0 {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				defer resp.Body.Close()
				return nil, StatusError{method, rawURL, resp.StatusCode, resp.Header, ""}
			}
			return resp, nil
		}
		if !o.acceptedCodes[resp.StatusCode] {
			defer resp.Body.Close()
			return nil, StatusError{method, rawURL, resp.StatusCode, resp.Header, ""}
		}
		return resp, nil
	}

	if o.retry == nil {
		return do()
	}

	var resp *http.Response
	err := backoff.Retry(func() error {
		r, err := do()
		if err != nil {
			if _, ok := err.(NetworkError); ok {
				return err
			}
			if se, ok := err.(StatusError); ok && o.retry.shouldRetry(se.Status) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}, o.retry.backoff)
	if err != nil {
		if pe, ok := err.(*backoff.PermanentError); ok {
			return nil, pe.Err
		}
		return nil, err
	}
	return resp, nil
}

// Get issues a GET request.
func Get(rawURL string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodGet, rawURL, opts...)
}

// Head issues a HEAD request.
func Head(rawURL string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodHead, rawURL, opts...)
}

// Post issues a POST request.
func Post(rawURL string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodPost, rawURL, opts...)
}

// ParseRedirectLocation resolves a Location header against the originating
// request URL, as required when following cross-host redirects.
func ParseRedirectLocation(base string, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(l).String(), nil
}
