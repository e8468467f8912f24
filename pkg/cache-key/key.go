package cachekey

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	methodSeparator = ":"
	keySeparator    = "\t"
)

// CacheKeyer builds storage keys for requests.
type CacheKeyer struct {
	// Origin used for requests that carry neither an absolute URL nor a Host.
	// Usually the URL of the proxied origin.
	DefaultOrigin string
}

func NewCacheKeyer(defaultOrigin string) CacheKeyer {
	return CacheKeyer{DefaultOrigin: strings.TrimSuffix(defaultOrigin, "/")}
}

// Key returns the cache key for a request.
// It consists of the method, the absolute request URL, and the `Cache-Key` request header if present.
func (c CacheKeyer) Key(r *http.Request) string {
	key := r.Method + methodSeparator + c.URL(r).String() + keySeparator
	if ck := r.Header.Get("Cache-Key"); ck != "" {
		key += ck
	}
	return key
}

// URL returns the absolute URL of the request as the client sees it.
func (c CacheKeyer) URL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Scheme == "" || u.Host == "" {
		origin := c.Origin(r)
		u.Scheme = origin.Scheme
		u.Host = origin.Host
	}
	return &u
}

// Origin returns the scheme and host the client used for the request.
// Forwarding headers set by an upstream proxy take precedence over the connection itself.
func (c CacheKeyer) Origin(r *http.Request) *url.URL {
	if r.URL.IsAbs() && r.URL.Host != "" {
		return &url.URL{Scheme: r.URL.Scheme, Host: r.URL.Host}
	}
	origin := &url.URL{Scheme: "http", Host: r.Host}
	if r.TLS != nil {
		origin.Scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		origin.Scheme = proto
	}
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		origin.Host = host
	}
	if origin.Host == "" && c.DefaultOrigin != "" {
		if def, err := url.Parse(c.DefaultOrigin); err == nil {
			return &url.URL{Scheme: def.Scheme, Host: def.Host}
		}
	}
	return origin
}
