package strategy

import (
	"context"
	"net/http"

	"github.com/always-cache/offline-cache/pkg/cache-status"
)

// StaleWhileRevalidate serves the cached response immediately and refreshes it
// in the background. Without a cached response the caller waits for the network.
type StaleWhileRevalidate struct{}

func (StaleWhileRevalidate) Name() string { return "stale-while-revalidate" }

func (s StaleWhileRevalidate) Handle(r *http.Request, env *Env) (*Outcome, error) {
	cs := cachestatus.CacheStatus{Detail: s.Name()}

	cached, ok, err := env.lookup(r)
	if err != nil {
		return nil, err
	}
	if ok {
		bg := newBackgroundRequest(r)
		env.Tasks.Go(func() {
			s.revalidate(bg, env)
		})
		cs.Hit()
		return &Outcome{Response: cached, Status: cs}, nil
	}

	cs.Forward(cachestatus.FwdReasonUriMiss)
	res, err := env.fetch(r)
	if err != nil {
		return nil, err
	}
	cs.FwdStatus = res.StatusCode
	stored, err := env.admit(r, res)
	if err != nil {
		closeBody(res)
		return nil, err
	}
	cs.Stored = stored
	return &Outcome{Response: res, Status: cs}, nil
}

// revalidate fetches and stores a fresh response. Failures are logged and dropped.
func (s StaleWhileRevalidate) revalidate(r *http.Request, env *Env) {
	res, err := env.fetch(r)
	if err != nil {
		env.Log.Warn().Err(err).Str("url", r.URL.String()).Msg("Background revalidation failed")
		return
	}
	defer closeBody(res)
	if _, err := env.admit(r, res); err != nil {
		env.Log.Warn().Err(err).Str("url", r.URL.String()).Msg("Could not store revalidated response")
		return
	}
	env.Log.Trace().Str("url", r.URL.String()).Int("http-status", res.StatusCode).Msg("Revalidated")
}

// newBackgroundRequest clones a request for use in background revalidation.
// This prevents a closed foreground request context from cancelling the background fetch.
func newBackgroundRequest(r *http.Request) *http.Request {
	bg := r.Clone(context.WithoutCancel(r.Context()))
	bg.Body = nil
	bg.ContentLength = 0
	return bg
}
