package offlinecache

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/expiration"
	"github.com/always-cache/offline-cache/pkg/metrics"
	"github.com/always-cache/offline-cache/pkg/network"
	"github.com/always-cache/offline-cache/pkg/routing"
	"github.com/always-cache/offline-cache/pkg/strategy"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// testOrigin is an in-process origin that can be taken offline.
type testOrigin struct {
	offline atomic.Bool
	version atomic.Int32
	hits    atomic.Int32
	router  chi.Router
}

func newTestOrigin() *testOrigin {
	o := &testOrigin{}
	r := chi.NewRouter()
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmt.Sprintf("%s v%d", r.URL.Path, o.version.Load())))
	})
	r.Post("/api/v1/pwa/share-target", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"status":200}`))
	})
	o.router = r
	return o
}

func (o *testOrigin) Fetch(r *http.Request) (*http.Response, error) {
	o.hits.Add(1)
	if o.offline.Load() {
		return nil, errors.New("origin is offline")
	}
	return network.HandlerFetcher{Handler: o.router}.Fetch(r)
}

func newTestEngine(t *testing.T, origin network.Fetcher, config Config) *Engine {
	t.Helper()
	logger := zerolog.Nop()
	config.Network = origin
	config.Logger = &logger
	e, err := CreateEngine(config)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func serve(h http.Handler, method, path, dest string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if dest != "" {
		req.Header.Set("Sec-Fetch-Dest", dest)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCreateEngineNeedsOrigin(t *testing.T) {
	if _, err := CreateEngine(Config{}); !errors.Is(err, ErrNoOrigin) {
		t.Fatalf("expected ErrNoOrigin, got %v", err)
	}
}

func TestAssetServedFromCacheAndRevalidated(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{})

	rr := serve(e, "GET", "/assets/app.js", "script")
	if rr.Body.String() != "/assets/app.js v0" {
		t.Fatalf("body is %s", rr.Body.String())
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "Offline-Cache; fwd=uri-miss; fwd-status=200; stored; detail=stale-while-revalidate" {
		t.Fatalf("Cache-Status is %s", cs)
	}

	origin.version.Store(1)
	rr = serve(e, "GET", "/assets/app.js", "script")
	e.Wait()
	if rr.Body.String() != "/assets/app.js v0" {
		t.Fatalf("body is %s", rr.Body.String())
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "Offline-Cache; hit; detail=stale-while-revalidate" {
		t.Fatalf("Cache-Status is %s", cs)
	}

	rr = serve(e, "GET", "/assets/app.js", "script")
	e.Wait()
	if rr.Body.String() != "/assets/app.js v1" {
		t.Fatalf("revalidated body is %s", rr.Body.String())
	}
}

func TestAPIFallsBackToCacheWhenOffline(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{})

	serve(e, "GET", "/api/bookmarks", "")
	origin.offline.Store(true)
	origin.version.Store(1)

	rr := serve(e, "GET", "/api/bookmarks", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "/api/bookmarks v0" {
		t.Fatalf("%d: body is %s", rr.Code, rr.Body.String())
	}
	if cs := rr.Header().Get("Cache-Status"); !strings.Contains(cs, "hit") {
		t.Fatalf("Cache-Status is %s", cs)
	}

	rr = serve(e, "GET", "/api/tags", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 without cache, got %d", rr.Code)
	}
}

func TestAbstainPassesThrough(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{})

	for i := 0; i < 2; i++ {
		rr := serve(e, "GET", "/api/other", "empty")
		if rr.Body.String() != "/api/other v0" {
			t.Fatalf("body is %s", rr.Body.String())
		}
		if cs := rr.Header().Get("Cache-Status"); cs != "Offline-Cache; fwd=bypass; fwd-status=200" {
			t.Fatalf("Cache-Status is %s", cs)
		}
	}
	if hits := origin.hits.Load(); hits != 2 {
		t.Fatalf("origin hit %d times", hits)
	}
	if namespaces, _ := e.Storage().Namespaces(); len(namespaces) != 0 {
		t.Fatalf("nothing should be stored, got %v", namespaces)
	}
}

func TestSubmissionRedirects(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{})

	req := httptest.NewRequest("POST", "/api/v1/pwa/share-target", strings.NewReader("url=https%3A%2F%2Fexample.org"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status is %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "http://example.com/#home?share=ok" {
		t.Fatalf("Location is %s", loc)
	}

	origin.offline.Store(true)
	rr = serve(e, "POST", "/api/v1/pwa/share-target", "")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status is %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "http://example.com/#home?share=fail" {
		t.Fatalf("Location is %s", loc)
	}
}

func TestDocumentNamespaceIsBounded(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{})

	for i := 0; i < 12; i++ {
		serve(e, "GET", fmt.Sprintf("/page/%d", i), "document")
	}
	keys, err := e.Storage().Keys("html-v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(keys))
	}
	if !strings.Contains(keys[0].Key, "/page/2") {
		t.Fatalf("oldest entries should be evicted first, oldest is %s", keys[0].Key)
	}
}

func TestExpiredEntriesAreMisses(t *testing.T) {
	origin := newTestOrigin()
	now := time.Now()
	e := newTestEngine(t, origin, Config{Now: func() time.Time { return now }})

	serve(e, "GET", "/api/accounts", "")
	origin.offline.Store(true)
	now = now.Add(8 * 24 * time.Hour)

	if rr := serve(e, "GET", "/api/accounts", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected expired entry to be ignored, got %d", rr.Code)
	}
}

func TestCacheOnlyMissIsGatewayTimeout(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{Routes: routing.Table{
		{Name: "offline", Match: routing.PathPrefix("/"), Strategy: strategy.CacheOnly{}, Namespace: "offline-v1"},
	}})

	if rr := serve(e, "GET", "/", ""); rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status is %d", rr.Code)
	}
	if hits := origin.hits.Load(); hits != 0 {
		t.Fatalf("origin hit %d times", hits)
	}
}

type panicking struct{}

func (panicking) Name() string { return "panicking" }

func (panicking) Handle(r *http.Request, env *strategy.Env) (*strategy.Outcome, error) {
	panic("broken strategy")
}

func TestPanicFallsBackToOrigin(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{Routes: routing.Table{
		{Name: "broken", Strategy: panicking{}},
	}})

	rr := serve(e, "GET", "/hello", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "/hello v0" {
		t.Fatalf("%d: body is %s", rr.Code, rr.Body.String())
	}
}

type brokenStorage struct {
	cache.Storage
}

func (brokenStorage) Get(ns, key string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, fmt.Errorf("%w: disk on fire", cache.ErrStorage)
}

func TestStorageFailureIsServerError(t *testing.T) {
	origin := newTestOrigin()
	e := newTestEngine(t, origin, Config{Storage: brokenStorage{cache.NewMemStorage(0)}})

	if rr := serve(e, "GET", "/assets/app.js", "script"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("status is %d", rr.Code)
	}
}

func TestMetrics(t *testing.T) {
	origin := newTestOrigin()
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(t, origin, Config{
		Metrics: m,
		Routes: routing.Table{
			{
				Name:      "pages",
				Match:     routing.PathPrefix("/"),
				Strategy:  strategy.CacheFirst{},
				Namespace: "pages-v1",
				Limits:    expiration.Limits{MaxEntries: 1},
			},
		},
	})

	serve(e, "GET", "/a", "")
	serve(e, "GET", "/a", "")
	serve(e, "GET", "/b", "")
	serve(e, "POST", "/a", "")

	if v := testutil.ToFloat64(m.Requests.WithLabelValues("pages", "cache-first", "hit")); v != 1 {
		t.Fatalf("hits: %v", v)
	}
	if v := testutil.ToFloat64(m.Requests.WithLabelValues("pages", "cache-first", "fwd")); v != 2 {
		t.Fatalf("forwards: %v", v)
	}
	if v := testutil.ToFloat64(m.Requests.WithLabelValues("", "", "abstain")); v != 1 {
		t.Fatalf("abstains: %v", v)
	}
	if v := testutil.ToFloat64(m.Admits.WithLabelValues("pages-v1")); v != 2 {
		t.Fatalf("admits: %v", v)
	}
	if v := testutil.ToFloat64(m.Evictions.WithLabelValues("pages-v1", "count")); v != 1 {
		t.Fatalf("evictions: %v", v)
	}
}
