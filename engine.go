// Package offlinecache is a request caching proxy that keeps a web application usable
// with degraded or no connectivity. Every request is matched against an ordered route table
// and served by the bound caching strategy, or passed through to the origin unmodified.
package offlinecache

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/cache-status"
	"github.com/always-cache/offline-cache/pkg/expiration"
	"github.com/always-cache/offline-cache/pkg/metrics"
	"github.com/always-cache/offline-cache/pkg/network"
	"github.com/always-cache/offline-cache/pkg/routing"
	"github.com/always-cache/offline-cache/pkg/strategy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoOrigin is returned by CreateEngine when there is no way to reach the network.
var ErrNoOrigin = errors.New("no origin configured")

type Config struct {
	// Storage for cache entries. An in-memory storage is used if nil.
	Storage cache.Storage
	// Network used for fetching. If nil, requests are forwarded to OriginURL.
	Network network.Fetcher
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Prepended to every cache namespace name.
	NamespacePrefix string
	// Timeout for network-first fetches. Zero leaves it to the transport.
	NetworkTimeout time.Duration
	// Metrics to record to. Nothing is recorded if nil.
	Metrics *metrics.Metrics
	// Routes overrides the default route table.
	Routes routing.Table
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine serves requests according to its route table.
// Routes and namespace limits are fixed once the engine is created.
type Engine struct {
	routes  routing.Table
	policy  *expiration.Policy
	network network.Fetcher
	keyer   cachekey.CacheKeyer
	log     zerolog.Logger
	metrics *metrics.Metrics
	tasks   *strategy.Tasks

	// inflight counts requests dispatched by a Controller.
	inflight sync.WaitGroup
}

// CreateEngine sets up an engine from the config.
func CreateEngine(config Config) (*Engine, error) {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	storage := config.Storage
	if storage == nil {
		storage = cache.NewMemStorage(cache.DefaultMemCapacity)
	}

	fetcher := config.Network
	if fetcher == nil {
		if config.OriginURL.Host == "" {
			return nil, ErrNoOrigin
		}
		logger = logger.With().Str("origin", config.OriginURL.String()).Logger()
		fetcher = network.NewClient(config.OriginURL, config.OriginHost, logger)
	}

	routes := config.Routes
	if routes == nil {
		routes = DefaultRoutes(NewNamespaces(config.NamespacePrefix), config.NetworkTimeout)
	}

	policy := expiration.New(storage, logger)
	if config.Now != nil {
		policy.Now = config.Now
	}
	policy.OnAdmit = func(ns, key string) {
		config.Metrics.RecordAdmit(ns)
	}
	policy.OnEvict = func(ns, key string, reason expiration.Reason) {
		config.Metrics.RecordEviction(ns, string(reason))
	}

	return &Engine{
		routes:  routes,
		policy:  policy,
		network: fetcher,
		keyer:   cachekey.NewCacheKeyer(config.OriginURL.String()),
		log:     logger,
		metrics: config.Metrics,
		tasks:   &strategy.Tasks{},
	}, nil
}

// Namespaces returns the cache namespaces bound by the engine's routes.
func (e *Engine) Namespaces() []string {
	return e.routes.Namespaces()
}

// Storage returns the storage the engine caches to.
func (e *Engine) Storage() cache.Storage {
	return e.policy.Storage()
}

// Wait blocks until requests dispatched by a Controller and all background
// revalidations have finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
	e.tasks.Wait()
}

// Match returns the rule serving the request, or nil if the engine abstains.
func (e *Engine) Match(r *http.Request) *routing.Rule {
	return e.routes.MatchLogged(routing.FromHTTP(r), e.log)
}

// Handle runs the request through its matched strategy.
// If no rule matches, it returns a nil outcome and false.
// A returned error is a hard failure.
func (e *Engine) Handle(r *http.Request) (*strategy.Outcome, bool, error) {
	rule := e.Match(r)
	if rule == nil {
		return nil, false, nil
	}
	outcome, err := e.handle(r, rule)
	return outcome, true, err
}

func (e *Engine) handle(r *http.Request, rule *routing.Rule) (*strategy.Outcome, error) {
	env := &strategy.Env{
		Namespace: rule.Namespace,
		Limits:    rule.Limits,
		Cache:     e.policy,
		Network:   e.timed(rule.Strategy.Name()),
		Keyer:     e.keyer,
		Log:       e.log.With().Str("route", rule.Name).Logger(),
		Tasks:     e.tasks,
	}
	return rule.Strategy.Handle(r, env)
}

// timed wraps the network to record fetch durations.
func (e *Engine) timed(strategyName string) network.Fetcher {
	if e.metrics == nil {
		return e.network
	}
	return network.FetcherFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		res, err := e.network.Fetch(r)
		e.metrics.RecordFetch(strategyName, time.Since(start))
		return res, err
	})
}

// ServeHTTP implements the http.Handler interface.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer e.recover(w, r)
	e.serve(w, r)
}

// recover recovers from panics and sends the request to the escape hatch.
func (e *Engine) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		e.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		e.passthrough(w, r)
	}
}

func (e *Engine) serve(w http.ResponseWriter, r *http.Request) {
	rule := e.Match(r)
	if rule == nil {
		e.metrics.RecordRequest("", "", "abstain")
		e.passthrough(w, r)
		return
	}

	outcome, err := e.handle(r, rule)
	if err != nil {
		status := errorStatus(err)
		e.log.Warn().Err(err).Str("route", rule.Name).Str("url", r.URL.String()).Int("status", status).Msg("Hard failure")
		e.metrics.RecordRequest(rule.Name, rule.Strategy.Name(), "error")
		http.Error(w, http.StatusText(status), status)
		return
	}
	e.metrics.RecordRequest(rule.Name, rule.Strategy.Name(), string(outcome.Status.Status))
	e.send(w, r, outcome.Response, outcome.Status)
}

// passthrough forwards the request to the network unmodified, i.e. default networking.
func (e *Engine) passthrough(w http.ResponseWriter, r *http.Request) {
	res, err := e.network.Fetch(r)
	if err != nil {
		e.log.Error().Err(err).Msg("Error connecting to origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	cs := cachestatus.CacheStatus{FwdStatus: res.StatusCode}
	cs.Forward(cachestatus.FwdReasonBypass)
	e.send(w, r, res, cs)
}

func (e *Engine) send(w http.ResponseWriter, r *http.Request, res *http.Response, cs cachestatus.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	if res.Body != nil {
		bytesWritten, err := io.Copy(w, res.Body)
		if err != nil {
			e.log.Error().Err(err).Msg("Could not write response body to client")
		}
		e.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	}
	e.logRequest(r, res.StatusCode, cs)
}

func (e *Engine) logRequest(r *http.Request, statusCode int, cs cachestatus.CacheStatus) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	e.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("http-status", statusCode).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

// errorStatus maps a hard failure to the status code sent to the client.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, strategy.ErrCacheMiss):
		return http.StatusGatewayTimeout
	case errors.Is(err, network.ErrTransport):
		return http.StatusBadGateway
	default:
		// storage failures and anything unclassified
		return http.StatusInternalServerError
	}
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

// hopHeaders are not copied from the origin response to the client.
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if hopHeaders[k] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
