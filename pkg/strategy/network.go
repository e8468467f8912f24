package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/pkg/cache-status"
	"github.com/always-cache/offline-cache/pkg/network"
)

// NetworkFirst fetches from the network and stores successful responses.
// If the fetch fails (transport error, cancellation, timeout or a non-2xx status)
// the cached response is served instead, if there is one.
type NetworkFirst struct {
	// Timeout bounds the network fetch. Zero leaves it to the transport.
	Timeout time.Duration
}

func (NetworkFirst) Name() string { return "network-first" }

func (s NetworkFirst) Handle(r *http.Request, env *Env) (*Outcome, error) {
	cs := cachestatus.CacheStatus{Detail: s.Name()}

	req := r
	if s.Timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
		defer cancel()
		req = r.WithContext(ctx)
	}

	res, err := env.fetch(req)
	if err == nil && s.Timeout > 0 {
		// the body must outlive the timeout context
		if bufErr := bufferBody(res); bufErr != nil {
			err = fmt.Errorf("%w: reading response: %v", network.ErrTransport, bufErr)
		}
	}
	if err == nil && isSuccess(res.StatusCode) {
		cs.Forward(cachestatus.FwdReasonRequest)
		cs.FwdStatus = res.StatusCode
		stored, err := env.admit(r, res)
		if err != nil {
			closeBody(res)
			return nil, err
		}
		cs.Stored = stored
		return &Outcome{Response: res, Status: cs}, nil
	}

	logEvt := env.Log.Debug().Err(err)
	if res != nil {
		logEvt = logEvt.Int("http-status", res.StatusCode)
	}
	logEvt.Msg("Network failed, falling back to cache")

	cached, ok, lookupErr := env.lookup(r)
	if lookupErr != nil {
		closeBody(res)
		return nil, lookupErr
	}
	if ok {
		closeBody(res)
		cs.Hit()
		return &Outcome{Response: cached, Status: cs}, nil
	}
	if err != nil {
		return nil, err
	}
	// nothing cached, so the origin's own error response is the best answer
	cs.Forward(cachestatus.FwdReasonUriMiss)
	cs.FwdStatus = res.StatusCode
	return &Outcome{Response: res, Status: cs}, nil
}

// NetworkOnly always fetches from the network and never uses the cache.
type NetworkOnly struct{}

func (NetworkOnly) Name() string { return "network-only" }

func (s NetworkOnly) Handle(r *http.Request, env *Env) (*Outcome, error) {
	res, err := env.fetch(r)
	if err != nil {
		return nil, err
	}
	cs := cachestatus.CacheStatus{Detail: s.Name(), FwdStatus: res.StatusCode}
	cs.Forward(cachestatus.FwdReasonBypass)
	return &Outcome{Response: res, Status: cs}, nil
}

// bufferBody reads the whole body into memory.
func bufferBody(res *http.Response) error {
	if res.Body == nil {
		return nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	return nil
}
