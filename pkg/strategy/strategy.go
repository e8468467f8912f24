// Package strategy implements the ways a request can be satisfied from a cache namespace
// and/or the network: cache-first, network-first, stale-while-revalidate, network-only,
// cache-only, and a submit-and-redirect strategy for form style submissions.
package strategy

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/cache-status"
	"github.com/always-cache/offline-cache/pkg/expiration"
	"github.com/always-cache/offline-cache/pkg/network"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// ErrCacheMiss is returned when a strategy needs a cached response and there is none.
var ErrCacheMiss = errors.New("no cached response")

// Strategy satisfies a request using the namespace and collaborators in env.
// A returned error is a hard failure which the caller surfaces to the client.
type Strategy interface {
	Name() string
	Handle(r *http.Request, env *Env) (*Outcome, error)
}

// Outcome is a response together with how it was obtained.
type Outcome struct {
	Response *http.Response
	Status   cachestatus.CacheStatus
}

// Env is everything a strategy may touch while handling one request.
type Env struct {
	Namespace string
	Limits    expiration.Limits
	Cache     *expiration.Policy
	Network   network.Fetcher
	Keyer     cachekey.CacheKeyer
	Log       zerolog.Logger
	// Tasks runs background work such as revalidation. If nil, plain goroutines are used.
	Tasks *Tasks
}

// Tasks tracks detached background work so that it can be awaited.
type Tasks struct {
	wg sync.WaitGroup
}

// Go runs f in a new goroutine.
func (t *Tasks) Go(f func()) {
	if t == nil {
		go f()
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		f()
	}()
}

// Wait blocks until all tasks started with Go have returned.
// Go must not be called once Wait is blocked on an empty set, so stop the
// requests that start tasks before waiting.
func (t *Tasks) Wait() {
	if t != nil {
		t.wg.Wait()
	}
}

// fetch performs the network request, classifying any error as a transport failure.
func (e *Env) fetch(r *http.Request) (*http.Response, error) {
	res, err := e.Network.Fetch(r)
	if err != nil {
		if !errors.Is(err, network.ErrTransport) {
			err = fmt.Errorf("%w: %v", network.ErrTransport, err)
		}
		return nil, err
	}
	return res, nil
}

// lookup returns the cached response for the request, if a fresh one is stored.
// Entries that cannot be parsed are removed and reported as a miss.
func (e *Env) lookup(r *http.Request) (*http.Response, bool, error) {
	key := e.Keyer.Key(r)
	bts, ok, err := e.Cache.Lookup(e.Namespace, e.Limits, key)
	if err != nil || !ok {
		return nil, false, err
	}
	res, err := serializer.BytesToResponse(bts)
	if err != nil {
		// in case we have a corrupted cache entry, we delete it and treat it as a miss
		e.Log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		if err := e.Cache.Storage().Delete(e.Namespace, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	res.Request = r
	return res, true, nil
}

// admit stores a successful response in the namespace.
// The response body stays readable for the caller.
// It returns whether the response was stored.
func (e *Env) admit(r *http.Request, res *http.Response) (bool, error) {
	if res.StatusCode != http.StatusOK {
		e.Log.Trace().Int("http-status", res.StatusCode).Msg("Non-cacheable response")
		return false, nil
	}
	res.Request = r
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return false, fmt.Errorf("%w: reading response: %v", network.ErrTransport, err)
	}
	key := e.Keyer.Key(r)
	if err := e.Cache.Admit(e.Namespace, e.Limits, key, bts); err != nil {
		e.Log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return false, err
	}
	e.Log.Trace().Str("key", key).Msg("Cache write")
	return true, nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func closeBody(res *http.Response) {
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
}
