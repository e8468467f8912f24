// Package network performs the real fetches behind the cache strategies.
package network

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"

	"github.com/rs/zerolog"
)

// ErrTransport is wrapped by every failure to obtain a response from the network.
var ErrTransport = errors.New("network transport failure")

// Fetcher performs a request against the network.
// Implementations honor the request context for cancellation and timeouts.
type Fetcher interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// FetcherFunc turns a function into a Fetcher.
type FetcherFunc func(r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Client fetches from an origin server over HTTP.
type Client struct {
	originURL  url.URL
	originHost string
	httpClient http.Client
	log        zerolog.Logger
}

// NewClient returns a client forwarding requests to originURL.
// originHost, if set, is used for the Host header and TLS negotiation,
// e.g. when the origin URL is just an IP address.
func NewClient(originURL url.URL, originHost string, logger zerolog.Logger) *Client {
	c := &Client{
		originURL:  originURL,
		originHost: originHost,
		log:        logger,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	// use provided hostname for origin if configured
	if originHost != "" {
		c.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return c
}

// Fetch forwards the request to the origin.
func (c *Client) Fetch(r *http.Request) (*http.Response, error) {
	uri := c.originURL.Scheme + "://" + c.originURL.Host + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		c.log.Error().Err(err).Str("uri", uri).Msg("Could not create request for fetching")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	if c.originHost != "" {
		req.Host = c.originHost
	}
	c.log.Trace().Str("method", req.Method).Str("uri", uri).Msg("Fetching from origin")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	res.Request = r
	return res, nil
}

// HandlerFetcher serves requests from an in-process handler,
// e.g. when the cache is used as a middleware in front of the application.
type HandlerFetcher struct {
	Handler http.Handler
}

// Fetch runs the handler and returns the response it produced.
func (h HandlerFetcher) Fetch(r *http.Request) (*http.Response, error) {
	if err := r.Context().Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	rw := tee.NewResponseSaver(nil)
	h.Handler.ServeHTTP(rw, r)
	if err := r.Context().Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	res, err := rw.HTTPResponse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return res, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a workaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
