package offlinecache

import (
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/pkg/expiration"
	"github.com/always-cache/offline-cache/pkg/routing"
	"github.com/always-cache/offline-cache/pkg/strategy"
)

const (
	oneDay  = 24 * time.Hour
	oneWeek = 7 * oneDay

	bookmarkPrefix   = "/bookmark"
	apiV1Prefix      = "/api/v1/"
	submissionPrefix = "/api/v1/pwa"
)

// assetLimits apply to every asset destination rule.
var assetLimits = expiration.Limits{MaxEntries: 15, MaxAge: oneWeek}

// DefaultRoutes returns the route table, earliest rule first.
// networkTimeout bounds the network-first fetches; zero leaves it to the transport.
func DefaultRoutes(ns Namespaces, networkTimeout time.Duration) routing.Table {
	networkFirst := strategy.NetworkFirst{Timeout: networkTimeout}
	swr := strategy.StaleWhileRevalidate{}
	isDocument := routing.DestinationIs(routing.DestDocument)

	return routing.Table{
		// share target submissions, checked before any GET rule can shadow them
		{
			Name:     "submission",
			Method:   http.MethodPost,
			Match:    routing.PathPrefix(submissionPrefix),
			Strategy: strategy.SubmitRedirect{},
		},
		// bookmark lists change often, so prefer the network and keep a week for offline use
		{
			Name:      "api-lists",
			Match:     routing.PathIn("/api/bookmarks", "/api/tags", "/api/accounts"),
			Strategy:  networkFirst,
			Namespace: ns[RoleAPI],
			Limits:    expiration.Limits{MaxEntries: 50, MaxAge: oneWeek},
		},
		{
			Name: "api-v1",
			Match: routing.All(
				routing.PathPrefix(apiV1Prefix),
				routing.Not(routing.PathPrefix(submissionPrefix)),
			),
			Strategy:  networkFirst,
			Namespace: ns[RoleAPI],
			Limits:    expiration.Limits{MaxEntries: 100, MaxAge: oneWeek},
		},
		// bookmark content rarely changes
		{
			Name:      "bookmark-content",
			Match:     routing.All(isDocument, routing.PathPrefix(bookmarkPrefix)),
			Strategy:  swr,
			Namespace: ns[RoleBookmark],
			Limits:    expiration.Limits{MaxEntries: 500, MaxAge: oneWeek},
		},
		{
			Name:      "documents",
			Match:     routing.All(isDocument, routing.Not(routing.PathPrefix(bookmarkPrefix))),
			Strategy:  networkFirst,
			Namespace: ns[RoleHTML],
			Limits:    expiration.Limits{MaxEntries: 10, MaxAge: oneWeek},
		},
		assetRoute("scripts", routing.DestScript, ns[RoleJS]),
		assetRoute("styles", routing.DestStyle, ns[RoleStyle]),
		assetRoute("images", routing.DestImage, ns[RoleImage]),
		assetRoute("fonts", routing.DestFont, ns[RoleFont]),
		assetRoute("manifests", routing.DestManifest, ns[RoleResource]),
	}
}

func assetRoute(name string, dest routing.Destination, namespace string) routing.Rule {
	return routing.Rule{
		Name:      name,
		Match:     routing.DestinationIs(dest),
		Strategy:  strategy.StaleWhileRevalidate{},
		Namespace: namespace,
		Limits:    assetLimits,
	}
}
