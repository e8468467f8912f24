package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
)

func TestClientForwardsToOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-For") != "" {
			t.Errorf("X-Forwarded-For was forwarded")
		}
		w.Write([]byte(r.Method + " " + r.URL.RequestURI()))
	}))
	defer origin.Close()
	originURL, _ := url.Parse(origin.URL)
	client := NewClient(*originURL, "", zerolog.Nop())

	req := httptest.NewRequest("GET", "/api/tags?page=2", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	res, err := client.Fetch(req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer res.Body.Close()
	if body, _ := io.ReadAll(res.Body); string(body) != "GET /api/tags?page=2" {
		t.Fatalf("Body is %s", body)
	}
	if res.Header.Get("Date") == "" {
		t.Fatal("Date header not set")
	}
}

func TestClientDoesNotFollowRedirects(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer origin.Close()
	originURL, _ := url.Parse(origin.URL)
	client := NewClient(*originURL, "", zerolog.Nop())

	res, err := client.Fetch(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("Status is %d", res.StatusCode)
	}
}

func TestClientTransportFailure(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	originURL, _ := url.Parse(origin.URL)
	origin.Close()
	client := NewClient(*originURL, "", zerolog.Nop())

	_, err := client.Fetch(httptest.NewRequest("GET", "/", nil))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Error is %v", err)
	}
}

func TestHandlerFetcher(t *testing.T) {
	fetcher := HandlerFetcher{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})}
	res, err := fetcher.Fetch(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.StatusCode != http.StatusTeapot {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != "short and stout" {
		t.Fatalf("Body is %s", body)
	}
}

func TestHandlerFetcherCancelled(t *testing.T) {
	fetcher := HandlerFetcher{Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fetcher.Fetch(httptest.NewRequest("GET", "/", nil).WithContext(ctx))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Error is %v", err)
	}
}
