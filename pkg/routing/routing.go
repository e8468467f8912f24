// Package routing decides which strategy and cache namespace serve a request.
// Rules are checked in declaration order and the first match wins.
package routing

import (
	"net/http"
	"strings"

	"github.com/always-cache/offline-cache/pkg/expiration"
	"github.com/always-cache/offline-cache/pkg/strategy"

	"github.com/rs/zerolog"
)

// Predicate reports whether a rule applies to a request.
type Predicate func(Request) bool

type Rule struct {
	Name string
	// Method restricts the rule to one request method. Empty means GET.
	Method    string
	Match     Predicate
	Strategy  strategy.Strategy
	Namespace string
	Limits    expiration.Limits
}

// Table is an ordered list of rules.
type Table []Rule

// Match returns the first rule matching the request, or nil if none does.
func (t Table) Match(req Request) *Rule {
	return t.match(req, zerolog.Nop())
}

// MatchLogged is Match with trace logging of the rules checked.
func (t Table) MatchLogged(req Request, logger zerolog.Logger) *Rule {
	return t.match(req, logger)
}

func (t Table) match(req Request, logger zerolog.Logger) *Rule {
	logger.Trace().Msgf("Finding rule for request %s:%s (%s)", req.Method, req.URL.Path, req.Destination)
	for i := range t {
		rule := &t[i]
		if rule.Method == "" && req.Method != http.MethodGet {
			continue
		}
		if rule.Method != "" && rule.Method != req.Method {
			continue
		}
		if rule.Match != nil && !rule.Match(req) {
			continue
		}
		logger.Trace().Str("rule", rule.Name).Msg("Rule matched")
		return rule
	}
	return nil
}

// Namespaces returns the distinct namespaces bound by the table, in rule order.
func (t Table) Namespaces() []string {
	seen := map[string]bool{}
	var namespaces []string
	for _, rule := range t {
		if rule.Namespace == "" || seen[rule.Namespace] {
			continue
		}
		seen[rule.Namespace] = true
		namespaces = append(namespaces, rule.Namespace)
	}
	return namespaces
}

// PathIn matches requests whose path is exactly one of paths.
func PathIn(paths ...string) Predicate {
	return func(req Request) bool {
		for _, p := range paths {
			if req.URL.Path == p {
				return true
			}
		}
		return false
	}
}

// PathPrefix matches requests whose path starts with prefix.
func PathPrefix(prefix string) Predicate {
	return func(req Request) bool {
		return strings.HasPrefix(req.URL.Path, prefix)
	}
}

// DestinationIs matches requests with one of the given destinations.
func DestinationIs(dests ...Destination) Predicate {
	return func(req Request) bool {
		for _, d := range dests {
			if req.Destination == d {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(req Request) bool {
		return !p(req)
	}
}

// All matches when every predicate matches.
func All(ps ...Predicate) Predicate {
	return func(req Request) bool {
		for _, p := range ps {
			if !p(req) {
				return false
			}
		}
		return true
	}
}
