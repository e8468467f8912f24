package routing

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/always-cache/offline-cache/pkg/strategy"
)

func req(method, rawURL string, dest Destination) Request {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return Request{Method: method, URL: u, Destination: dest}
}

var testTable = Table{
	{
		Name:     "submit",
		Method:   "POST",
		Match:    PathPrefix("/submit"),
		Strategy: strategy.SubmitRedirect{},
	},
	{
		Name:     "exact",
		Match:    PathIn("/api/items", "/api/users"),
		Strategy: strategy.NetworkFirst{},
	},
	{
		Name:     "prefix",
		Match:    All(PathPrefix("/api/"), Not(PathPrefix("/api/private"))),
		Strategy: strategy.NetworkFirst{},
	},
	{
		Name:     "assets",
		Match:    DestinationIs(DestScript, DestStyle),
		Strategy: strategy.StaleWhileRevalidate{},
	},
}

func TestMatchOrder(t *testing.T) {
	tests := []struct {
		req  Request
		rule string
	}{
		{req("GET", "/api/items", DestOther), "exact"},
		{req("GET", "/api/users", DestOther), "exact"},
		{req("GET", "/api/items/1", DestOther), "prefix"},
		{req("GET", "/api/private/x", DestOther), ""},
		{req("POST", "/submit/form", DestOther), "submit"},
		{req("GET", "/submit/form", DestOther), ""},
		{req("POST", "/api/items", DestOther), ""},
		{req("GET", "/app.js", DestScript), "assets"},
		{req("GET", "/theme.css?v=2", DestStyle), "assets"},
		{req("GET", "/static/x", DestOther), ""},
		{req("GET", "/api/app.js", DestScript), "prefix"},
	}
	for _, test := range tests {
		rule := testTable.Match(test.req)
		got := ""
		if rule != nil {
			got = rule.Name
		}
		if got != test.rule {
			t.Fatalf("%s %s: expected rule %q, got %q", test.req.Method, test.req.URL, test.rule, got)
		}
	}
}

func TestEarlierRuleWins(t *testing.T) {
	table := Table{
		{Name: "first", Match: PathPrefix("/a")},
		{Name: "second", Match: PathPrefix("/a/b")},
	}
	for i := 0; i < 100; i++ {
		if rule := table.Match(req("GET", "/a/b/c", DestOther)); rule == nil || rule.Name != "first" {
			t.Fatalf("expected first rule to win, got %+v", rule)
		}
	}
}

func TestNamespaces(t *testing.T) {
	table := Table{
		{Name: "a", Namespace: "one"},
		{Name: "b", Namespace: "two"},
		{Name: "c", Namespace: "one"},
		{Name: "d"},
	}
	got := table.Namespaces()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected namespaces %v", got)
	}
}

func TestDestinationOf(t *testing.T) {
	tests := []struct {
		path   string
		header map[string]string
		dest   Destination
	}{
		{"/", map[string]string{"Sec-Fetch-Dest": "document"}, DestDocument},
		{"/app.js", map[string]string{"Sec-Fetch-Dest": "empty"}, DestOther},
		{"/x", map[string]string{"Sec-Fetch-Dest": "Script"}, DestScript},
		{"/app.js", nil, DestScript},
		{"/style.CSS", nil, DestStyle},
		{"/logo.png", nil, DestImage},
		{"/font.woff2", nil, DestFont},
		{"/manifest.webmanifest", nil, DestManifest},
		{"/bookmark/1/content", map[string]string{"Accept": "text/html,application/xhtml+xml"}, DestDocument},
		{"/api/bookmarks", map[string]string{"Accept": "application/json"}, DestOther},
	}
	for _, test := range tests {
		r := httptest.NewRequest("GET", test.path, nil)
		for k, v := range test.header {
			r.Header.Set(k, v)
		}
		if got := DestinationOf(r); got != test.dest {
			t.Fatalf("%s %v: expected %s, got %s", test.path, test.header, test.dest, got)
		}
	}
}
