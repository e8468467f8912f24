package strategy

import (
	"fmt"
	"net/http"

	"github.com/always-cache/offline-cache/pkg/cache-status"
)

// CacheFirst serves the cached response if there is one,
// otherwise it fetches from the network and stores the result.
type CacheFirst struct{}

func (CacheFirst) Name() string { return "cache-first" }

func (s CacheFirst) Handle(r *http.Request, env *Env) (*Outcome, error) {
	cs := cachestatus.CacheStatus{Detail: s.Name()}
	if res, ok, err := env.lookup(r); err != nil {
		return nil, err
	} else if ok {
		cs.Hit()
		return &Outcome{Response: res, Status: cs}, nil
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

// CacheOnly serves from the cache and never touches the network.
// A miss is a hard failure.
type CacheOnly struct{}

func (CacheOnly) Name() string { return "cache-only" }

func (s CacheOnly) Handle(r *http.Request, env *Env) (*Outcome, error) {
	res, ok, err := env.lookup(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, env.Keyer.Key(r))
	}
	cs := cachestatus.CacheStatus{Detail: s.Name()}
	cs.Hit()
	return &Outcome{Response: res, Status: cs}, nil
}
